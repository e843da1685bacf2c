package engine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

const telemetryApplicationID = "blobdrop"

// credential is the resolved authentication scheme. Each variant carries only
// the fields it needs to build a client.
type credential interface {
	kind() AuthType
	newClient(opts *azblob.ClientOptions) (*azblob.Client, error)
}

type connectionStringAuth struct {
	connectionString string
}

func (connectionStringAuth) kind() AuthType { return AuthConnectionString }

func (a connectionStringAuth) newClient(opts *azblob.ClientOptions) (*azblob.Client, error) {
	return azblob.NewClientFromConnectionString(a.connectionString, opts)
}

type azureADAuth struct {
	serviceURL string
}

func (azureADAuth) kind() AuthType { return AuthAzureAD }

func (a azureADAuth) newClient(opts *azblob.ClientOptions) (*azblob.Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("default azure credential: %w", err)
	}
	return azblob.NewClient(a.serviceURL, cred, opts)
}

type sasAuth struct {
	serviceURL string
	token      string
}

func (sasAuth) kind() AuthType { return AuthSASToken }

func (a sasAuth) newClient(opts *azblob.ClientOptions) (*azblob.Client, error) {
	endpoint, err := appendSASToken(a.serviceURL, a.token)
	if err != nil {
		return nil, err
	}
	return azblob.NewClientWithNoCredential(endpoint, opts)
}

type sharedKeyAuth struct {
	serviceURL  string
	accountName string
	accessKey   string
}

func (sharedKeyAuth) kind() AuthType { return AuthAccountKey }

func (a sharedKeyAuth) newClient(opts *azblob.ClientOptions) (*azblob.Client, error) {
	cred, err := azblob.NewSharedKeyCredential(a.accountName, a.accessKey)
	if err != nil {
		return nil, fmt.Errorf("shared key credential: %w", err)
	}
	return azblob.NewClientWithSharedKeyCredential(a.serviceURL, cred, opts)
}

// resolveCredential picks exactly one authentication scheme from o. The first
// matching branch wins; every unmet requirement of that branch is collected.
func resolveCredential(o Options) (credential, *ConfigError) {
	problems := &ConfigError{}
	if containerMissing(o.ContainerName) {
		problems.add(errMissingContainer)
		return nil, problems
	}

	mode := o.AuthenticationType
	if mode != "" && !mode.valid() {
		problems.add(fmt.Errorf("unknown authentication type %q", mode))
		return nil, problems
	}

	if mode == AuthConnectionString || (mode == "" && o.ConnectionString != "") {
		if o.ConnectionString == "" {
			problems.add(errMissingConnectionString)
			return nil, problems
		}
		return connectionStringAuth{connectionString: o.ConnectionString}, nil
	}

	// Every remaining scheme addresses the account by name.
	if o.AccountName == "" {
		problems.add(errMissingAccountName)
	}

	var cred credential
	switch {
	case mode == AuthAzureAD:
		cred = azureADAuth{serviceURL: o.serviceURL()}
	case mode == AuthSASToken || (mode == "" && o.SASToken != ""):
		if o.SASToken == "" {
			problems.add(errMissingSASToken)
			break
		}
		cred = sasAuth{serviceURL: o.serviceURL(), token: o.SASToken}
	case mode == AuthAccountKey || (mode == "" && o.AccessKey != ""):
		if o.AccessKey == "" {
			problems.add(errMissingAccessKey)
			break
		}
		cred = sharedKeyAuth{serviceURL: o.serviceURL(), accountName: o.AccountName, accessKey: o.AccessKey}
	default:
		problems.add(errNoAuthentication)
	}

	if len(problems.Problems) > 0 {
		return nil, problems
	}
	return cred, nil
}

func clientOptions() *azblob.ClientOptions {
	return &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Telemetry: policy.TelemetryOptions{ApplicationID: telemetryApplicationID},
		},
	}
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}
