// Package fetch retrieves conversations and messages through an ordered
// chain of retrieval strategies.
//
// Strategies run one at a time from most to least authoritative. The first
// non-empty result wins; failures are logged and skipped. An exhausted chain
// yields a single placeholder record, and the whole chain shares one time
// budget.
package fetch
