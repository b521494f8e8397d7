package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ClientNamespace returns the key prefix under which a single client (one
// browser context) keeps its identity and progress records.
func (r *CacheKeyStruct) ClientNamespace(clientID string) string {
	return fmt.Sprintf("client:%s:", clientID)
}

// IdentityKey returns the record key for a test taker's identity.
func (r *CacheKeyStruct) IdentityKey(testID string) string {
	return fmt.Sprintf("test_session_%s", testID)
}

// ProgressKey returns the record key for a test's progress snapshot.
func (r *CacheKeyStruct) ProgressKey(testID string) string {
	return fmt.Sprintf("test_%s", testID)
}

// TestDefinitionKey returns the cache key for a catalog test definition.
func (r *CacheKeyStruct) TestDefinitionKey(testID string) string {
	return fmt.Sprintf("catalog:test:%s:definition", testID)
}

// SubmissionLedgerKey returns the cache key for the acknowledged submission
// of one attempt.
func (r *CacheKeyStruct) SubmissionLedgerKey(testID, attemptID string) string {
	return fmt.Sprintf("submission:%s:%s", testID, attemptID)
}

var CacheKey = NewCacheKeyStruct()
