package engine

import (
	"fmt"
	"os"
	"strings"

	"blobdrop/internal/storage"
)

// AuthType forces a specific way of authenticating against the storage account.
type AuthType string

const (
	AuthConnectionString AuthType = "connection string"
	AuthAzureAD          AuthType = "azure ad"
	AuthSASToken         AuthType = "sas token"
	AuthAccountKey       AuthType = "account name and key"
)

// ParseAuthType accepts the canonical names plus a few spellings seen in env files.
func ParseAuthType(raw string) (AuthType, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(raw))), " ")
	switch normalized {
	case "":
		return "", nil
	case string(AuthConnectionString), "connectionstring":
		return AuthConnectionString, nil
	case string(AuthAzureAD), "azuread", "ad", "entra":
		return AuthAzureAD, nil
	case string(AuthSASToken), "sas", "sastoken":
		return AuthSASToken, nil
	case string(AuthAccountKey), "shared key", "account key":
		return AuthAccountKey, nil
	default:
		return "", fmt.Errorf("unknown authentication type %q", raw)
	}
}

func (t AuthType) valid() bool {
	switch t {
	case AuthConnectionString, AuthAzureAD, AuthSASToken, AuthAccountKey:
		return true
	default:
		return false
	}
}

// Environment variables consulted for credential fields left empty in Options.
const (
	EnvConnectionString = "AZURE_STORAGE_CONNECTION_STRING"
	EnvAccountName      = "AZURE_STORAGE_ACCOUNT"
	EnvAccessKey        = "AZURE_STORAGE_ACCESS_KEY"
	EnvSASToken         = "AZURE_STORAGE_SAS_TOKEN"
)

// Options configures an Engine. ContainerName is required; everything else is optional.
type Options struct {
	ContainerName      Resolver[string]
	AuthenticationType AuthType

	ConnectionString string
	AccountName      string
	AccessKey        string
	SASToken         string
	// Endpoint overrides https://{account}.blob.core.windows.net, e.g. for Azurite.
	Endpoint string

	// Metadata is attached to every blob only when set.
	Metadata Resolver[map[string]string]
	// ContentSettings defaults to the file's MIME type with an inline disposition.
	ContentSettings Resolver[ContentSettings]
	// BlobName defaults to DefaultBlobName.
	BlobName Resolver[string]

	ContainerAccessLevel storage.AccessLevel

	BlockSize   int64
	Concurrency int
}

func (o Options) withEnvDefaults(getenv func(string) string) Options {
	fill := func(v *string, key string) {
		if strings.TrimSpace(*v) == "" {
			*v = strings.TrimSpace(getenv(key))
		}
	}
	fill(&o.ConnectionString, EnvConnectionString)
	fill(&o.AccountName, EnvAccountName)
	fill(&o.AccessKey, EnvAccessKey)
	fill(&o.SASToken, EnvSASToken)
	return o
}

func (o Options) serviceURL() string {
	if o.Endpoint != "" {
		return strings.TrimRight(o.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", o.AccountName)
}

func containerMissing(r Resolver[string]) bool {
	if r == nil {
		return true
	}
	if s, ok := r.(staticResolver[string]); ok {
		return strings.TrimSpace(s.value) == ""
	}
	if fn, ok := r.(Func[string]); ok {
		return fn == nil
	}
	return false
}

func defaultGetenv(key string) string {
	return os.Getenv(key)
}
