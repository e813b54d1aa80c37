package aws

import (
	"context"
	"errors"
	"testing"
)

func TestObjectStoreUpload(t *testing.T) {
	mock := NewMockClient()
	store := NewObjectStore(mock, "certs", "docpilot/pfx", nil)

	url, err := store.Upload(context.Background(), "doc-1", "Jane_Doe.pfx", []byte("pfx"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key := "certs/docpilot/pfx/doc-1/Jane_Doe.pfx"
	if string(mock.Objects[key]) != "pfx" {
		t.Errorf("object not stored under %s: %v", key, mock.Objects)
	}
	if mock.ContentTypes[key] != "application/x-pkcs12" {
		t.Errorf("unexpected content type %q", mock.ContentTypes[key])
	}
	want := "https://certs.s3.us-east-1.amazonaws.com/docpilot/pfx/doc-1/Jane_Doe.pfx"
	if url != want {
		t.Errorf("expected %s, got %s", want, url)
	}
}

func TestObjectStoreURL(t *testing.T) {
	tests := []struct {
		region, prefix, want string
	}{
		{"eu-west-1", "", "https://b.s3.eu-west-1.amazonaws.com/u/f.pfx"},
		{"", "", "https://b.s3.amazonaws.com/u/f.pfx"},
		{"", "a/b/", "https://b.s3.amazonaws.com/a/b/u/f.pfx"},
	}
	for _, tt := range tests {
		mock := NewMockClient()
		mock.RegionName = tt.region
		store := NewObjectStore(mock, "b", tt.prefix, nil)
		if got := store.URL(store.Key("u", "f.pfx")); got != tt.want {
			t.Errorf("region %q prefix %q: got %s, want %s", tt.region, tt.prefix, got, tt.want)
		}
	}
}

func TestObjectStoreErrors(t *testing.T) {
	mock := NewMockClient()
	if _, err := NewObjectStore(mock, "", "", nil).Upload(context.Background(), "u", "f", nil); err == nil {
		t.Error("expected error without bucket")
	}

	mock.PutErr = errors.New("access denied")
	_, err := NewObjectStore(mock, "b", "", nil).Upload(context.Background(), "u", "f", nil)
	if !errors.Is(err, mock.PutErr) {
		t.Errorf("expected put error, got %v", err)
	}
	if len(mock.Objects) != 0 {
		t.Errorf("nothing should be stored, got %v", mock.Objects)
	}
}

func TestMockVerifyCredentials(t *testing.T) {
	mock := NewMockClient()
	id, err := mock.VerifyCredentials(context.Background())
	if err != nil || id.Account != "123456789012" {
		t.Fatalf("unexpected identity %+v %v", id, err)
	}
	mock.IdentityErr = errors.New("expired token")
	if _, err := mock.VerifyCredentials(context.Background()); err == nil {
		t.Error("expected error")
	}
}
