package aws

import "context"

// MockClient is a test double for the Client interface.
type MockClient struct {
	Identity    *CallerIdentity
	IdentityErr error
	PutErr      error
	RegionName  string

	// key "bucket/key"
	Objects      map[string][]byte
	ContentTypes map[string]string
}

// NewMockClient creates a new MockClient with default values.
func NewMockClient() *MockClient {
	return &MockClient{
		Identity: &CallerIdentity{
			Account: "123456789012",
			ARN:     "arn:aws:iam::123456789012:user/test",
			UserID:  "AIDA12345",
		},
		RegionName:   "us-east-1",
		Objects:      make(map[string][]byte),
		ContentTypes: make(map[string]string),
	}
}

func (m *MockClient) VerifyCredentials(_ context.Context) (*CallerIdentity, error) {
	return m.Identity, m.IdentityErr
}

func (m *MockClient) PutObject(_ context.Context, bucket, key, contentType string, data []byte) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.Objects[bucket+"/"+key] = data
	m.ContentTypes[bucket+"/"+key] = contentType
	return nil
}

func (m *MockClient) Region() string { return m.RegionName }
