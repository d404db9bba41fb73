package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
)

// SecretData holds the state of a fake secret
type SecretData struct {
	SecretString *string
	SecretBinary []byte
	VersionId    *string
	CreatedDate  *time.Time
	DeletedDate  *time.Time
	Description  *string
	KmsKeyId     *string
	Versions     int
}

// errorQueue hands out injected errors per operation and key.
type errorQueue struct {
	sticky map[string]error
	queued map[string][]error
}

func newErrorQueue() errorQueue {
	return errorQueue{sticky: map[string]error{}, queued: map[string][]error{}}
}

func (q errorQueue) next(op, key string) error {
	k := op + "|" + key
	if errs := q.queued[k]; len(errs) > 0 {
		q.queued[k] = errs[1:]
		return errs[0]
	}
	if err, ok := q.sticky[key]; ok {
		return err
	}
	return nil
}

// FakeSecretsManagerClient is an in-memory Secrets Manager. It is safe for
// concurrent use.
type FakeSecretsManagerClient struct {
	Region    string
	AccountID string

	// CreateSecretFunc allows custom behavior for CreateSecret
	CreateSecretFunc func(ctx context.Context, params *secretsmanager.CreateSecretInput) (*secretsmanager.CreateSecretOutput, error)
	// PutSecretValueFunc allows custom behavior for PutSecretValue
	PutSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error)

	mu      sync.Mutex
	secrets map[string]*SecretData
	errors  errorQueue
	calls   map[string]int
}

// NewFakeSecretsManagerClient creates an empty fake in us-east-1
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Region:    "us-east-1",
		AccountID: "123456789012",
		secrets:   make(map[string]*SecretData),
		errors:    newErrorQueue(),
		calls:     make(map[string]int),
	}
}

// AddSecret stores a secret as is
func (f *FakeSecretsManagerClient) AddSecret(name string, data *SecretData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data.Versions == 0 {
		data.Versions = 1
	}
	f.secrets[name] = data
}

// AddSecretString stores a text secret
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	now := time.Now()
	f.AddSecret(name, &SecretData{
		SecretString: aws.String(value),
		VersionId:    aws.String("v1"),
		CreatedDate:  &now,
	})
}

// AddSecretBinary stores a binary secret
func (f *FakeSecretsManagerClient) AddSecretBinary(name string, value []byte) {
	now := time.Now()
	f.AddSecret(name, &SecretData{
		SecretBinary: value,
		VersionId:    aws.String("v1"),
		CreatedDate:  &now,
	})
}

// AddError makes every operation on name fail with err
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors.sticky[name] = err
}

// FailNext makes the next len(errs) calls of op on name fail in order.
// op is the SDK operation name, e.g. "PutSecretValue".
func (f *FakeSecretsManagerClient) FailNext(op, name string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := op + "|" + name
	f.errors.queued[k] = append(f.errors.queued[k], errs...)
}

// Secret returns a copy of the stored secret
func (f *FakeSecretsManagerClient) Secret(name string) (SecretData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.secrets[name]
	if !ok {
		return SecretData{}, false
	}
	return *data, true
}

// Calls returns how many times op was invoked
func (f *FakeSecretsManagerClient) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeSecretsManagerClient) arn(name string) *string {
	return aws.String(fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s-AbCdEf", f.Region, f.AccountID, name))
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
	}
}

// begin records a call and returns an injected error, if any. Callers hold f.mu.
func (f *FakeSecretsManagerClient) begin(op, name string) error {
	f.calls[op]++
	return f.errors.next(op, name)
}

// GetSecretValue returns the current value
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("GetSecretValue", name); err != nil {
		return nil, err
	}
	data, ok := f.secrets[name]
	if !ok || data.DeletedDate != nil {
		return nil, notFound(name)
	}

	return &secretsmanager.GetSecretValueOutput{
		ARN:           f.arn(name),
		Name:          aws.String(name),
		SecretString:  data.SecretString,
		SecretBinary:  data.SecretBinary,
		VersionId:     data.VersionId,
		VersionStages: []string{"AWSCURRENT"},
		CreatedDate:   data.CreatedDate,
	}, nil
}

// DescribeSecret returns metadata
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("DescribeSecret", name); err != nil {
		return nil, err
	}
	data, ok := f.secrets[name]
	if !ok {
		return nil, notFound(name)
	}

	return &secretsmanager.DescribeSecretOutput{
		ARN:         f.arn(name),
		Name:        aws.String(name),
		Description: data.Description,
		KmsKeyId:    data.KmsKeyId,
		CreatedDate: data.CreatedDate,
		DeletedDate: data.DeletedDate,
	}, nil
}

// CreateSecret creates a secret, failing if it already exists
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	if f.CreateSecretFunc != nil {
		return f.CreateSecretFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err := f.begin("CreateSecret", name); err != nil {
		return nil, err
	}
	if _, exists := f.secrets[name]; exists {
		return nil, &types.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}

	now := time.Now()
	data := &SecretData{
		SecretString: params.SecretString,
		SecretBinary: params.SecretBinary,
		VersionId:    aws.String("v1"),
		CreatedDate:  &now,
		Description:  params.Description,
		KmsKeyId:     params.KmsKeyId,
		Versions:     1,
	}
	f.secrets[name] = data

	return &secretsmanager.CreateSecretOutput{
		ARN:       f.arn(name),
		Name:      aws.String(name),
		VersionId: data.VersionId,
	}, nil
}

// PutSecretValue stores a new version of an existing secret
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if f.PutSecretValueFunc != nil {
		return f.PutSecretValueFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("PutSecretValue", name); err != nil {
		return nil, err
	}
	data, ok := f.secrets[name]
	if !ok {
		return nil, notFound(name)
	}

	f.newVersion(data, params.SecretString, params.SecretBinary)
	return &secretsmanager.PutSecretValueOutput{
		ARN:           f.arn(name),
		Name:          aws.String(name),
		VersionId:     data.VersionId,
		VersionStages: []string{"AWSCURRENT"},
	}, nil
}

// UpdateSecret changes the value and, optionally, the KMS key
func (f *FakeSecretsManagerClient) UpdateSecret(ctx context.Context, params *secretsmanager.UpdateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err := f.begin("UpdateSecret", name); err != nil {
		return nil, err
	}
	data, ok := f.secrets[name]
	if !ok {
		return nil, notFound(name)
	}

	if params.KmsKeyId != nil {
		data.KmsKeyId = params.KmsKeyId
	}
	if params.Description != nil {
		data.Description = params.Description
	}
	f.newVersion(data, params.SecretString, params.SecretBinary)

	return &secretsmanager.UpdateSecretOutput{
		ARN:       f.arn(name),
		Name:      aws.String(name),
		VersionId: data.VersionId,
	}, nil
}

func (f *FakeSecretsManagerClient) newVersion(data *SecretData, value *string, binary []byte) {
	if value != nil {
		data.SecretString = value
		data.SecretBinary = nil
	}
	if binary != nil {
		data.SecretBinary = binary
		data.SecretString = nil
	}
	data.Versions++
	data.VersionId = aws.String(fmt.Sprintf("v%d", data.Versions))
}

// FakeSSMClient is an in-memory Parameter Store
type FakeSSMClient struct {
	mu         sync.Mutex
	parameters map[string]ssmtypes.Parameter
	errors     map[string]error
	calls      int
}

// NewFakeSSMClient creates an empty fake
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		parameters: make(map[string]ssmtypes.Parameter),
		errors:     make(map[string]error),
	}
}

// AddStringParameter stores a String parameter
func (f *FakeSSMClient) AddStringParameter(name, value string) {
	f.addParameter(name, value, ssmtypes.ParameterTypeString)
}

// AddSecureStringParameter stores a SecureString parameter
func (f *FakeSSMClient) AddSecureStringParameter(name, value string) {
	f.addParameter(name, value, ssmtypes.ParameterTypeSecureString)
}

func (f *FakeSSMClient) addParameter(name, value string, typ ssmtypes.ParameterType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.parameters[name] = ssmtypes.Parameter{
		Name:             aws.String(name),
		Type:             typ,
		Value:            aws.String(value),
		Version:          1,
		LastModifiedDate: &now,
		ARN:              aws.String(fmt.Sprintf("arn:aws:ssm:us-east-1:123456789012:parameter%s", name)),
	}
}

// AddError makes GetParameter on name fail with err
func (f *FakeSSMClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[name] = err
}

// Calls returns how many GetParameter calls were made
func (f *FakeSSMClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// GetParameter returns a stored parameter. SecureString values are only
// returned when decryption is requested.
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	name := aws.ToString(params.Name)
	if err, ok := f.errors[name]; ok {
		return nil, err
	}
	param, ok := f.parameters[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String(fmt.Sprintf("Parameter %s not found", name))}
	}
	if param.Type == ssmtypes.ParameterTypeSecureString && !aws.ToBool(params.WithDecryption) {
		param.Value = aws.String("AQICAHencrypted")
	}
	return &ssm.GetParameterOutput{Parameter: &param}, nil
}

// FakeSTSClient issues fake temporary credentials
type FakeSTSClient struct {
	// Duration is the lifetime of issued credentials.
	Duration time.Duration
	// Now returns the issue time; defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	errors map[string]error
	calls  map[string]int
	inputs []sts.AssumeRoleInput
}

// NewFakeSTSClient creates a fake issuing one hour credentials
func NewFakeSTSClient() *FakeSTSClient {
	return &FakeSTSClient{
		Duration: time.Hour,
		Now:      time.Now,
		errors:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

// AddError makes AssumeRole on roleARN fail with err
func (f *FakeSTSClient) AddError(roleARN string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[roleARN] = err
}

// Calls returns how many times roleARN was assumed
func (f *FakeSTSClient) Calls(roleARN string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[roleARN]
}

// LastInput returns the most recent AssumeRole input
func (f *FakeSTSClient) LastInput() (sts.AssumeRoleInput, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return sts.AssumeRoleInput{}, false
	}
	return f.inputs[len(f.inputs)-1], true
}

// AssumeRole returns credentials derived from the role ARN and call count
func (f *FakeSTSClient) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	roleARN := aws.ToString(params.RoleArn)
	f.calls[roleARN]++
	f.inputs = append(f.inputs, *params)
	if err, ok := f.errors[roleARN]; ok {
		return nil, err
	}

	expires := f.Now().Add(f.Duration)
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String(fmt.Sprintf("ASIA%04d", f.calls[roleARN])),
			SecretAccessKey: aws.String("fake-secret-key"),
			SessionToken:    aws.String("fake-session-token"),
			Expiration:      &expires,
		},
		AssumedRoleUser: &ststypes.AssumedRoleUser{
			Arn:           aws.String(roleARN + "/" + aws.ToString(params.RoleSessionName)),
			AssumedRoleId: aws.String("AROAFAKE:" + aws.ToString(params.RoleSessionName)),
		},
	}, nil
}
