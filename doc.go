/*
Package tokenledger implements a combined fungible and non-fungible token
ledger with storage-rent accounting.

The ledger keeps three kinds of state: an account registry with a
storage-balance escrow per account, a fungible balance ledger whose balances
always sum to the total supply, and a non-fungible token registry with an
owner index and bounded per-token transfer approvals.

Transfers that notify the receiving account follow a two-phase protocol: the
asset moves first and durably, then the receiver hook runs, and a mandatory
resolution step reconciles the optimistic move against the hook's outcome
(partial use, decline or failure). Resolution is driven by the hosting
runtime through the collaborator interfaces of the host package and may only
be invoked by the contract itself.

A Contract is constructed once per deployment with New and dispatches each
external invocation against a storage overlay that is committed on success
and discarded on any error.
*/
package tokenledger
