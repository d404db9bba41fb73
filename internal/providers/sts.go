package providers

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/benbjohnson/clock"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/internal/logging"
)

const (
	// DefaultSessionName names assumed-role sessions in CloudTrail.
	DefaultSessionName = "secrets-replicator"

	// DefaultSessionDuration is the lifetime requested for temporary credentials.
	DefaultSessionDuration = time.Hour

	// Credentials are refreshed this long before they expire.
	credentialRefreshBuffer = 5 * time.Minute

	credentialSource = "secrets-replicator/assume-role"
)

var invalidSessionChars = regexp.MustCompile(`[^\w+=,.@-]`)

// STSAPI is the subset of the STS client the role assumer uses.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// RoleAssumer obtains and caches temporary credentials per role.
type RoleAssumer struct {
	client      STSAPI
	sessionName string
	duration    time.Duration
	externalID  string
	clock       clock.Clock
	logger      *logging.Logger

	mu    sync.Mutex
	cache map[string]aws.Credentials
}

// AssumerOption configures a RoleAssumer.
type AssumerOption func(*RoleAssumer)

// WithSessionName sets the role session name
func WithSessionName(name string) AssumerOption {
	return func(r *RoleAssumer) {
		if name != "" {
			r.sessionName = name
		}
	}
}

// WithSessionDuration sets the requested credential lifetime. STS accepts
// 15 minutes up to the role's maximum session duration.
func WithSessionDuration(d time.Duration) AssumerOption {
	return func(r *RoleAssumer) {
		if d > 0 {
			r.duration = d
		}
	}
}

// WithExternalID passes an external id on every AssumeRole call
func WithExternalID(id string) AssumerOption {
	return func(r *RoleAssumer) {
		r.externalID = id
	}
}

// WithClock replaces the wall clock used for expiry checks
func WithClock(clk clock.Clock) AssumerOption {
	return func(r *RoleAssumer) {
		if clk != nil {
			r.clock = clk
		}
	}
}

// WithAssumerLogger sets the logger
func WithAssumerLogger(logger *logging.Logger) AssumerOption {
	return func(r *RoleAssumer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRoleAssumer creates a RoleAssumer using client
func NewRoleAssumer(client STSAPI, opts ...AssumerOption) *RoleAssumer {
	r := &RoleAssumer{
		client:      client,
		sessionName: DefaultSessionName,
		duration:    DefaultSessionDuration,
		clock:       clock.New(),
		logger:      logging.NewNop(),
		cache:       make(map[string]aws.Credentials),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sessionName = sanitizeSessionName(r.sessionName)
	return r
}

// Assume returns credentials for roleARN, reusing cached credentials until
// shortly before they expire. Failures other than throttling are classified
// as access denied.
func (r *RoleAssumer) Assume(ctx context.Context, roleARN string) (aws.Credentials, error) {
	if _, err := arn.Parse(roleARN); err != nil {
		return aws.Credentials{}, dserrors.Malformed("assume role", fmt.Sprintf("invalid role ARN %q", roleARN), err)
	}

	if creds, ok := r.cached(roleARN); ok {
		return creds, nil
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(r.sessionName),
		DurationSeconds: aws.Int32(int32(r.duration / time.Second)),
	}
	if r.externalID != "" {
		input.ExternalId = aws.String(r.externalID)
	}

	r.logger.Debug("assuming role %s", roleARN)
	out, err := r.client.AssumeRole(ctx, input)
	if err != nil {
		if dserrors.KindOf(err) == dserrors.KindTransient {
			return aws.Credentials{}, dserrors.Transient("assume role", err)
		}
		return aws.Credentials{}, dserrors.New(dserrors.KindAccessDenied, "assume role", roleARN, err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, dserrors.New(dserrors.KindAccessDenied, "assume role", roleARN+": no credentials returned", nil)
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          credentialSource,
	}
	if out.Credentials.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = *out.Credentials.Expiration
	}

	r.mu.Lock()
	r.cache[roleARN] = creds
	r.mu.Unlock()

	return creds, nil
}

// Provider adapts Assume to the SDK's credentials provider interface
func (r *RoleAssumer) Provider(roleARN string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return r.Assume(ctx, roleARN)
	})
}

// Forget drops cached credentials for roleARN
func (r *RoleAssumer) Forget(roleARN string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, roleARN)
}

func (r *RoleAssumer) cached(roleARN string) (aws.Credentials, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	creds, ok := r.cache[roleARN]
	if !ok {
		return aws.Credentials{}, false
	}
	if creds.CanExpire && !r.clock.Now().Add(credentialRefreshBuffer).Before(creds.Expires) {
		delete(r.cache, roleARN)
		return aws.Credentials{}, false
	}
	return creds, true
}

// sanitizeSessionName keeps the characters STS allows and its 64 character limit
func sanitizeSessionName(name string) string {
	name = invalidSessionChars.ReplaceAllString(name, "-")
	if len(name) < 2 {
		name = DefaultSessionName
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
