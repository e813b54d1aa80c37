package certificate

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// 2048-bit keys keep the tests fast.
var testOpts = Options{KeyBits: 2048}

func TestRequestWithDefaults(t *testing.T) {
	r := Request{UID: "u1", UserName: "Dr Who", OrganizationName: "Clinic"}.WithDefaults()

	if r.CommonName != "DocPilot Certificate" || r.CountryName != "US" ||
		r.StateOrProvinceName != "State" || r.LocalityName != "City" ||
		r.OrganizationalUnitName != "Development" {
		t.Errorf("defaults not applied: %+v", r)
	}
	if r.OrganizationName != "Clinic" {
		t.Errorf("explicit organization overwritten: %q", r.OrganizationName)
	}
	if r.Password != "" {
		t.Errorf("password should stay empty, got %q", r.Password)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"ok", Request{UID: "u", UserName: "n"}, ""},
		{"no uid", Request{UserName: "n"}, "User/Doctor UID is required"},
		{"blank uid", Request{UID: "  ", UserName: "n"}, "User/Doctor UID is required"},
		{"no user name", Request{UID: "u"}, "User name is required for the certificate file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var in *InputError
			if !errors.As(err, &in) || in.Message != tt.want {
				t.Fatalf("expected InputError %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"John Smith":    "John_Smith.pfx",
		"dr.o'neil":     "dr_o_neil.pfx",
		"Zoë":           "Zo_.pfx",
		"plain123":      "plain123.pfx",
		"../etc/passwd": "___etc_passwd.pfx",
	}
	for in, want := range tests {
		if got := SafeFilename(in); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts := testOpts
	opts.Now = func() time.Time { return now }

	b, err := Generate(Request{UID: "doc-1", UserName: "Jane Doe", Password: "pw"}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Filename != "Jane_Doe.pfx" {
		t.Errorf("unexpected filename %q", b.Filename)
	}
	if b.Password != "pw" {
		t.Errorf("expected supplied password, got %q", b.Password)
	}
	if !b.NotAfter.Equal(now.Add(DefaultValidity)) {
		t.Errorf("unexpected expiry %v", b.NotAfter)
	}

	key, cert, err := pkcs12.Decode(b.PFX, "pw")
	if err != nil {
		t.Fatalf("decoding bundle: %v", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		t.Fatalf("expected RSA key, got %T", key)
	}
	if rsaKey.N.BitLen() != 2048 {
		t.Errorf("expected 2048-bit key, got %d", rsaKey.N.BitLen())
	}

	if cert.Subject.CommonName != "DocPilot Certificate" {
		t.Errorf("unexpected common name %q", cert.Subject.CommonName)
	}
	if cert.Issuer.String() != cert.Subject.String() {
		t.Errorf("certificate is not self-issued: %s vs %s", cert.Issuer, cert.Subject)
	}
	if !cert.IsCA {
		t.Error("expected CA certificate")
	}
	if cert.SignatureAlgorithm != x509.SHA256WithRSA {
		t.Errorf("unexpected signature algorithm %v", cert.SignatureAlgorithm)
	}
	wantUsage := x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature |
		x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment
	if cert.KeyUsage != wantUsage {
		t.Errorf("unexpected key usage %b", cert.KeyUsage)
	}
	for _, eku := range []x509.ExtKeyUsage{
		x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageCodeSigning,
		x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageTimeStamping,
	} {
		if !slices.Contains(cert.ExtKeyUsage, eku) {
			t.Errorf("missing extended key usage %v", eku)
		}
	}
	if cert.SerialNumber.Sign() <= 0 {
		t.Errorf("serial must be positive, got %v", cert.SerialNumber)
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		t.Errorf("self signature does not verify: %v", err)
	}

	if _, _, err := pkcs12.Decode(b.PFX, "wrong"); err == nil {
		t.Error("expected decode with wrong password to fail")
	}
}

func TestGenerateRandomPassword(t *testing.T) {
	a, err := Generate(Request{UID: "u", UserName: "n"}, testOpts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(Request{UID: "u", UserName: "n"}, testOpts)
	if err != nil {
		t.Fatal(err)
	}
	if a.Password == "" || a.Password == b.Password {
		t.Errorf("expected distinct random passwords, got %q and %q", a.Password, b.Password)
	}
	if a.Certificate.SerialNumber.Cmp(b.Certificate.SerialNumber) == 0 {
		t.Error("expected distinct serial numbers")
	}
	if _, _, err := pkcs12.Decode(a.PFX, a.Password); err != nil {
		t.Errorf("bundle does not open with generated password: %v", err)
	}
}

func TestGenerateInvalid(t *testing.T) {
	_, err := Generate(Request{UserName: "n"}, testOpts)
	var in *InputError
	if !errors.As(err, &in) {
		t.Fatalf("expected InputError, got %v", err)
	}
}

type stubStore struct {
	fileID, filename string
	data             []byte
	err              error
}

func (s *stubStore) Upload(_ context.Context, fileID, filename string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.fileID, s.filename, s.data = fileID, filename, data
	return "https://files.example/" + fileID, nil
}

func TestServiceIssue(t *testing.T) {
	store := &stubStore{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opts := testOpts
	opts.Now = func() time.Time { return now }
	svc := NewService(store, opts, nil)

	resp, err := svc.Issue(context.Background(), Request{UID: "doc-7", UserName: "A B", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Response{
		Success:    true,
		Password:   "secret",
		ExpiryDate: "2027-01-02T03:04:05.000Z",
		FileID:     "doc-7",
		FileURL:    "https://files.example/doc-7",
		UID:        "doc-7",
	}
	if *resp != want {
		t.Errorf("unexpected response\n got %+v\nwant %+v", *resp, want)
	}
	if store.fileID != "doc-7" || store.filename != "A_B.pfx" || len(store.data) == 0 {
		t.Errorf("unexpected upload: %q %q %d bytes", store.fileID, store.filename, len(store.data))
	}
}

func TestServiceIssueUploadError(t *testing.T) {
	svc := NewService(&stubStore{err: errors.New("bucket not found")}, testOpts, nil)

	_, err := svc.Issue(context.Background(), Request{UID: "u", UserName: "n"})
	if err == nil {
		t.Fatal("expected error")
	}
	status, resp := ErrorResponse(err)
	if status != http.StatusInternalServerError || resp.Success || resp.Error == "" {
		t.Errorf("unexpected error response %d %+v", status, resp)
	}
}

func TestErrorResponse(t *testing.T) {
	status, resp := ErrorResponse(&InputError{Message: "User/Doctor UID is required"})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if resp.Error != "User/Doctor UID is required" {
		t.Errorf("unexpected message %q", resp.Error)
	}
}
