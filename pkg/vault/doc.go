// Package vault defines the data model shared by the vaultsync engine and its
// collaborators: zones, vault generations, record kinds, remote records and the
// local credential payloads they are derived from.
//
// # Architecture Overview
//
// vaultsync keeps a local encrypted credential store consistent with a remote
// zoned record store. The package sits underneath every other layer:
//
//     ┌─────────────────────────────────────────────────────────────┐
//     │                    CLI Commands                             │
//     │                (cmd/vaultsync/commands/)                    │
//     └─────────────────────────┬───────────────────────────────────┘
//                               │
//     ┌─────────────────────────▼───────────────────────────────────┐
//     │                     Syncer                                  │
//     │   probe → migration → reconcile → reencrypt                 │
//     │                 (internal/sync/...)                         │
//     └─────────────────────────┬───────────────────────────────────┘
//                               │
//     ┌─────────────────────────▼───────────────────────────────────┐
//     │                    Data Model                               │
//     │                   (pkg/vault/)                 ◄────────────┤
//     └─────────────────────────┬───────────────────────────────────┘
//                               │
//     ┌─────────────────────────▼───────────────────────────────────┐
//     │     Remote store · Local repository · Encryption            │
//     │  (internal/remote, internal/localstore, internal/encryption)│
//     └─────────────────────────────────────────────────────────────┘
//
// # Generations and Zones
//
// A vault generation is a schema version of the synced credential format.
// Generation 1 lives in the "Vault1" zone, generation 2 in "Vault2".
// Generation 3 shares the "Vault2" zone and is told apart by the
// ServiceRecord3 record kind and the version field of the Info record.
//
// # Identity
//
// Records are addressed by zone, kind and name, but two records describe the
// same logical entity when their Identity matches. Identity is derived from
// the entity's natural key (section identifier or raw secret) and ignores the
// schema tag, so a service is recognised whether it arrives as a
// ServiceRecord2 or a ServiceRecord3.
package vault
