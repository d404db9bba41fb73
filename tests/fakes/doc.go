// Package fakes provides test doubles for the replicator's external clients.
//
// Fakes are manually implemented in-memory versions of the AWS SDK clients
// (Secrets Manager, STS, Parameter Store) and of the pkg/provider interfaces.
// They keep enough state to behave like the real service for the operations
// the replicator uses and let tests inject errors per operation and key.
//
// Usage:
//
//	sm := fakes.NewFakeSecretsManagerClient()
//	sm.AddSecretString("app/db", `{"host":"db.us-east-1.example.com"}`)
//	sm.FailNext("PutSecretValue", "app/db", throttled, throttled)
//	store := providers.NewSecretsManagerStore(sm, "us-east-1")
package fakes
