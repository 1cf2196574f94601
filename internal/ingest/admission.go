package ingest

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/validator"
	"golang.org/x/time/rate"
)

// Policy is the admission rule set applied to every upload before any write.
type Policy struct {
	MaxSizeBytes              int64
	AllowedTypes              []string
	RequireAuthenticatedOwner bool
	// UploadsPerMinute limits each owner; zero disables the limit.
	UploadsPerMinute int
}

var extensionTypes = map[string]string{
	".csv": "text/csv",
	".tsv": "text/tab-separated-values",
	".txt": "text/plain",
}

// delimiters maps delimited-text media types to their field separator.
var delimiters = map[string]rune{
	"text/csv":                  ',',
	"text/plain":                ',',
	"application/vnd.ms-excel":  ',',
	"text/tab-separated-values": '\t',
}

// Admitter applies a Policy and keeps per-owner rate limiters.
type Admitter struct {
	policy Policy

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewAdmitter creates an Admitter for p.
func NewAdmitter(p Policy) *Admitter {
	return &Admitter{
		policy:   p,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Admit checks u against the policy and returns the normalized media type.
// Rejections are *domain.AdmissionError. The rate limit is consulted last
// so that otherwise rejected uploads do not spend an owner's budget.
func (a *Admitter) Admit(u Upload) (string, error) {
	p := a.policy

	if p.RequireAuthenticatedOwner && strings.TrimSpace(u.OwnerID) == "" {
		return "", &domain.AdmissionError{Reason: domain.AdmissionUnauthenticated, Detail: "owner identity required"}
	}
	if len(u.Data) == 0 {
		return "", &domain.AdmissionError{Reason: domain.AdmissionEmptyUpload}
	}
	if p.MaxSizeBytes > 0 && int64(len(u.Data)) > p.MaxSizeBytes {
		return "", &domain.AdmissionError{
			Reason: domain.AdmissionTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds limit of %d", len(u.Data), p.MaxSizeBytes),
		}
	}

	mediaType := MediaType(u.DeclaredType, u.DeclaredName)
	if len(p.AllowedTypes) > 0 && !allowed(p.AllowedTypes, mediaType) {
		return "", &domain.AdmissionError{Reason: domain.AdmissionTypeNotAllowed, Detail: mediaType}
	}

	// every admitted upload is later loaded as delimited text
	if _, err := validator.ParseDelimited(u.Data, Delimiter(mediaType)); err != nil {
		return "", err
	}

	if p.UploadsPerMinute > 0 && !a.limiter(u.OwnerID).AllowN(a.now(), 1) {
		return "", &domain.AdmissionError{
			Reason: domain.AdmissionRateLimited,
			Detail: fmt.Sprintf("more than %d uploads per minute", p.UploadsPerMinute),
		}
	}
	return mediaType, nil
}

func (a *Admitter) limiter(owner string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[owner]
	if !ok {
		per := a.policy.UploadsPerMinute
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(per)), per)
		a.limiters[owner] = l
	}
	return l
}

// MediaType normalizes a declared content type, falling back to the file
// extension when none was declared.
func MediaType(declared, name string) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
		return strings.ToLower(strings.TrimSpace(declared))
	}
	if mt, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Delimiter returns the field separator for a media type; comma by default.
func Delimiter(mediaType string) rune {
	if d, ok := delimiters[mediaType]; ok {
		return d
	}
	return ','
}

func allowed(types []string, mediaType string) bool {
	for _, t := range types {
		if strings.EqualFold(strings.TrimSpace(t), mediaType) {
			return true
		}
	}
	return false
}
