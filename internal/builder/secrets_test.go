package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/model"
)

func TestBuildSecretGeneric(t *testing.T) {
	s := model.Secret{Name: "api-key", SecretType: model.SecretGeneric}
	out, err := buildSecret(s, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "api-key", out.Name)
	require.Equal(t, []byte("payload"), out.GetGenericSecret().GetSecret().GetInlineBytes())
}

func TestBuildSecretTLSCertificate(t *testing.T) {
	s := model.Secret{Name: "cert", SecretType: model.SecretTLSCertificate}
	out, err := buildSecret(s, []byte("pem bytes"))
	require.NoError(t, err)
	require.Equal(t, []byte("pem bytes"), out.GetTlsCertificate().GetCertificateChain().GetInlineBytes())
}

func TestBuildSecretValidationContext(t *testing.T) {
	s := model.Secret{Name: "ca", SecretType: model.SecretValidationContext}
	out, err := buildSecret(s, []byte("ca bundle"))
	require.NoError(t, err)
	require.Equal(t, []byte("ca bundle"), out.GetValidationContext().GetTrustedCa().GetInlineBytes())
}

func TestBuildSecretSessionTicketKeys(t *testing.T) {
	s := model.Secret{Name: "ticket-keys", SecretType: model.SecretSessionTicketKeys}
	out, err := buildSecret(s, []byte("keys"))
	require.NoError(t, err)
	require.Len(t, out.GetSessionTicketKeys().GetKeys(), 1)
}

func TestBuildSecretUnknownTypeFails(t *testing.T) {
	s := model.Secret{Name: "mystery", SecretType: "something_else"}
	_, err := buildSecret(s, []byte("x"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Build))
}

func TestResolveSecretPayloadInlineWithoutSealerFails(t *testing.T) {
	b := New(nil, nil, nil)
	s := model.Secret{Name: "api-key", Backend: model.BackendInline}
	_, err := b.resolveSecretPayload(context.Background(), s)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Build))
}

func TestResolveSecretPayloadExternalBackendWithoutResolverFails(t *testing.T) {
	b := New(nil, nil, nil)
	s := model.Secret{Name: "vault-secret", Backend: model.BackendVault, Reference: "secret/data/foo"}
	_, err := b.resolveSecretPayload(context.Background(), s)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Backend))
}
