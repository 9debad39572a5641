// Copyright (c) 2026 Mesteriis

package dist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/model"
)

func testInstance(certType model.CertType, withCA bool) *model.CertInstance {
	cm := &model.CertMeta{
		Name:           "www.example.com",
		CertType:       certType,
		SubjectType:    model.SubjectServer,
		EncryptionAlgo: model.AlgoEC,
	}
	ci := model.NewReservedInstance(cm, nil)
	ci.CKSD[model.AlgEC] = &model.CertKeyStore{Algorithm: model.AlgEC, Key: []byte("KEY"), Cert: []byte("CERT")}
	if withCA {
		caCM := &model.CertMeta{Name: "ca.example.com", SubjectType: model.SubjectCA, EncryptionAlgo: model.AlgoEC}
		caCI := model.NewReservedInstance(caCM, nil)
		caCI.CKSD[model.AlgEC] = &model.CertKeyStore{Algorithm: model.AlgEC, Cert: []byte("CACERT")}
		ci.CACertCI = caCI
	}
	cm.AddInstance(ci)
	return ci
}

func TestPlanPlaceSeparateWithChain(t *testing.T) {
	t.Parallel()
	ci := testInstance(model.CertTypeLE, true)
	place := &model.Place{CertFileType: model.CertFileSeparate, CertPath: "/etc/certs"}
	key, cert, caCert, err := bundleContent(ci, model.AlgEC)
	require.NoError(t, err)

	files, err := planPlace("host1.example.com", "www.example.com", "", "/etc/certs", place, model.SubjectServer, model.CertTypeLE, key, cert, caCert)
	require.NoError(t, err)
	require.Len(t, files, 3)
	require.Equal(t, RoleKey, files[0].Spec.Role)
	require.Equal(t, RoleCert, files[1].Spec.Role)
	require.Equal(t, RoleCertCACertChain, files[2].Spec.Role)
	require.Equal(t, "CERTCACERT", string(files[2].Content))
}

func TestPlanPlaceFilenamesUseSubjectNotHostFQDN(t *testing.T) {
	t.Parallel()
	ci := testInstance(model.CertTypeLE, true)
	place := &model.Place{CertFileType: model.CertFileSeparate, CertPath: "/etc/certs"}
	key, cert, caCert, err := bundleContent(ci, model.AlgEC)
	require.NoError(t, err)

	files, err := planPlace("host1.example.com", "www.example.com", "", "/etc/certs", place, model.SubjectServer, model.CertTypeLE, key, cert, caCert)
	require.NoError(t, err)
	require.Equal(t, "www.example.com_server_key.pem", files[0].Spec.Name)
	require.Equal(t, "www.example.com_server_cert.pem", files[1].Spec.Name)
	require.Equal(t, "host1.example.com", files[0].FQDN)
}

func TestPlanPlaceCombineBothHasSingleFile(t *testing.T) {
	t.Parallel()
	ci := testInstance(model.CertTypeLE, true)
	place := &model.Place{CertFileType: model.CertFileCombineBoth, CertPath: "/etc/certs"}
	key, cert, caCert, err := bundleContent(ci, model.AlgEC)
	require.NoError(t, err)

	files, err := planPlace("host1.example.com", "www.example.com", "", "/etc/certs", place, model.SubjectServer, model.CertTypeLE, key, cert, caCert)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, RoleKeyCertCACert, files[0].Spec.Role)
	require.Equal(t, "KEYCERTCACERT", string(files[0].Content))
}

func TestPlanPlaceKeyPathOverridesKeyDestinationOnly(t *testing.T) {
	t.Parallel()
	ci := testInstance(model.CertTypeLocal, false)
	place := &model.Place{CertFileType: model.CertFileCombineCACert, CertPath: "/etc/certs", KeyPath: "/etc/keys"}
	key, cert, caCert, err := bundleContent(ci, model.AlgEC)
	require.NoError(t, err)

	files, err := planPlace("host1.example.com", "www.example.com", "", "/etc/certs", place, model.SubjectServer, model.CertTypeLocal, key, cert, caCert)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "/etc/keys", files[0].DestDir)
	require.Equal(t, "/etc/certs", files[1].DestDir)
}

func TestPlanCertMetaHostFilterSetsOmittedHost(t *testing.T) {
	t.Parallel()
	ci := testInstance(model.CertTypeLocal, false)
	cm := ci.CM
	cm.Disthosts = map[string]*model.DistHost{
		"host-a.example.com": {
			FQDN: "host-a.example.com",
			Jails: map[string]*model.Jail{
				"": {Places: map[string]*model.Place{"p": {CertFileType: model.CertFileCertOnly, CertPath: "/etc/ssl/{}"}}},
			},
		},
		"host-b.example.com": {
			FQDN: "host-b.example.com",
			Jails: map[string]*model.Jail{
				"": {Places: map[string]*model.Place{"p": {CertFileType: model.CertFileCertOnly, CertPath: "/etc/ssl/{}"}}},
			},
		},
	}

	filter := func(fqdn string) bool { return fqdn == "host-a.example.com" }
	files, omitted, err := PlanCertMeta(cm, ci, filter)
	require.NoError(t, err)
	require.True(t, omitted)
	require.Len(t, files, 1)
	require.Equal(t, "host-a.example.com", files[0].FQDN)
	require.Equal(t, "/etc/ssl/"+cm.Name, files[0].DestDir)
	require.Equal(t, cm.Name+"_server_cert.pem", files[0].Spec.Name)
}

func TestPlanCertMetaNoFilterTouchesAllHosts(t *testing.T) {
	t.Parallel()
	ci := testInstance(model.CertTypeLocal, false)
	cm := ci.CM
	cm.Disthosts = map[string]*model.DistHost{
		"host-a.example.com": {
			FQDN: "host-a.example.com",
			Jails: map[string]*model.Jail{
				"": {Places: map[string]*model.Place{"p": {CertFileType: model.CertFileCertOnly, CertPath: "/etc/certs"}}},
			},
		},
	}

	files, omitted, err := PlanCertMeta(cm, ci, nil)
	require.NoError(t, err)
	require.False(t, omitted)
	require.Len(t, files, 1)
}
