// Package certificate issues self-signed certificates packaged as PKCS#12
// bundles for doctors and other users.
package certificate

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"software.sslmate.com/src/go-pkcs12"
)

const (
	DefaultKeyBits  = 4096
	DefaultValidity = 365 * 24 * time.Hour
	// Iterations is the PBKDF iteration count used when encrypting the bundle.
	Iterations = 2048
)

// Request describes the certificate subject and its owner.
type Request struct {
	CommonName             string `json:"commonName,omitempty"`
	CountryName            string `json:"countryName,omitempty"`
	StateOrProvinceName    string `json:"stateOrProvinceName,omitempty"`
	LocalityName           string `json:"localityName,omitempty"`
	OrganizationName       string `json:"organizationName,omitempty"`
	OrganizationalUnitName string `json:"organizationalUnitName,omitempty"`
	Password               string `json:"password,omitempty"`
	UID                    string `json:"uid"`
	UserName               string `json:"userName"`
}

// WithDefaults returns a copy with empty subject fields filled in. The
// password is left alone.
func (r Request) WithDefaults() Request {
	def := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	def(&r.CommonName, "DocPilot Certificate")
	def(&r.CountryName, "US")
	def(&r.StateOrProvinceName, "State")
	def(&r.LocalityName, "City")
	def(&r.OrganizationName, "DocPilot")
	def(&r.OrganizationalUnitName, "Development")
	return r
}

// Validate reports a missing owner.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UID) == "" {
		return &InputError{Message: "User/Doctor UID is required"}
	}
	if strings.TrimSpace(r.UserName) == "" {
		return &InputError{Message: "User name is required for the certificate file"}
	}
	return nil
}

// InputError is a problem with the request itself.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

// Bundle is a generated certificate and its PKCS#12 encoding.
type Bundle struct {
	Certificate *x509.Certificate
	PFX         []byte
	Password    string
	Filename    string
	NotAfter    time.Time
}

// Options control key size and lifetime.
type Options struct {
	KeyBits  int
	Validity time.Duration
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.KeyBits == 0 {
		o.KeyBits = DefaultKeyBits
	}
	if o.Validity == 0 {
		o.Validity = DefaultValidity
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Generate creates an RSA key and a self-signed CA certificate for req and
// encodes both as a 3DES PKCS#12 bundle. A random password is generated when
// req has none.
func Generate(req Request, opts Options) (*Bundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.WithDefaults()
	opts = opts.withDefaults()

	password := req.Password
	if password == "" {
		var err error
		if password, err = RandomPassword(); err != nil {
			return nil, err
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, opts.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}

	serial := new(big.Int).SetBytes(uuidBytes(uuid.New()))
	notBefore := opts.Now().UTC().Truncate(time.Second)
	notAfter := notBefore.Add(opts.Validity)

	subject := pkix.Name{
		CommonName:         req.CommonName,
		Country:            []string{req.CountryName},
		Province:           []string{req.StateOrProvinceName},
		Locality:           []string{req.LocalityName},
		Organization:       []string{req.OrganizationName},
		OrganizationalUnit: []string{req.OrganizationalUnitName},
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage: x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature |
			x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment |
			x509.KeyUsageDataEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
			x509.ExtKeyUsageCodeSigning,
			x509.ExtKeyUsageEmailProtection,
			x509.ExtKeyUsageTimeStamping,
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("signing certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	pfx, err := pkcs12.LegacyDES.WithIterations(Iterations).Encode(key, cert, nil, password)
	if err != nil {
		return nil, fmt.Errorf("encoding PKCS#12: %w", err)
	}

	return &Bundle{
		Certificate: cert,
		PFX:         pfx,
		Password:    password,
		Filename:    SafeFilename(req.UserName),
		NotAfter:    notAfter,
	}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SafeFilename turns a user name into the bundle's file name.
func SafeFilename(userName string) string {
	return unsafeChars.ReplaceAllString(userName, "_") + ".pfx"
}

// RandomPassword returns 18 random bytes, base64url encoded.
func RandomPassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// uuidBytes keeps the serial positive and non-zero.
func uuidBytes(id uuid.UUID) []byte {
	b := id[:]
	b[0] &= 0x7f
	if b[0] == 0 {
		b[0] = 1
	}
	return b
}
