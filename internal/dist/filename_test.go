// Copyright (c) 2026 Mesteriis

package dist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/model"
)

func TestFilenameFunctionsMatchSourceConvention(t *testing.T) {
	t.Parallel()
	require.Equal(t, "example.com_server_key.pem", keyName("example.com", model.SubjectServer))
	require.Equal(t, "example.com_server_cert.pem", certName("example.com", model.SubjectServer))
	require.Equal(t, "example.com_server_cert_cacert_chain.pem", certCACertChainName("example.com", model.SubjectServer))
	require.Equal(t, "example.com_server_key_cert.pem", keyCertName("example.com", model.SubjectServer))
	require.Equal(t, "example.com_server_key_cert_cacert.pem", keyCertCACertName("example.com", model.SubjectServer))
	require.Equal(t, "example.com_server_cert_cacert.pem", certCACertName("example.com", model.SubjectServer))
}

func TestContainsKeyMaterialMatchesKeyBearingRoles(t *testing.T) {
	t.Parallel()
	require.True(t, RoleKey.ContainsKeyMaterial())
	require.True(t, RoleKeyCert.ContainsKeyMaterial())
	require.True(t, RoleKeyCertCACert.ContainsKeyMaterial())
	require.False(t, RoleCert.ContainsKeyMaterial())
	require.False(t, RoleCertCACert.ContainsKeyMaterial())
	require.False(t, RoleCertCACertChain.ContainsKeyMaterial())
}
