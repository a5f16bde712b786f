package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/workflow"
	"github.com/playsafesec/upgradeboard/internal/workflow/localfs"
)

type conflictingFiles struct {
	workflow.FileStore
}

func (conflictingFiles) PutFile(ctx context.Context, path string, content []byte, version, message string) error {
	return workflow.ErrVersionConflict
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	svc := New(localfs.New(dir), "", "")
	ctx := context.Background()

	require.NoError(t, svc.SaveHosts(ctx, SampleHosts()))
	require.NoError(t, svc.SavePackages(ctx, SamplePackages()))

	raw, err := os.ReadFile(filepath.Join(dir, "inventory", "host.json"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "{\n    \"classes\""), "four space indentation")

	hosts, packages, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SampleHosts(), hosts)
	assert.Equal(t, SamplePackages(), packages)

	// second save goes through the version token
	hosts.Classes[0].Servers = hosts.Classes[0].Servers[:1]
	require.NoError(t, svc.SaveHosts(ctx, hosts))
	again, err := svc.LoadHosts(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Classes[0].Servers, 1)
}

func TestLoad_Failures(t *testing.T) {
	svc := New(localfs.New(t.TempDir()), "", "")

	_, _, err := svc.Load(context.Background())
	assert.True(t, errors.Is(err, workflow.ErrNotFound))

	hosts, packages := svc.LoadOrSample(context.Background())
	assert.Equal(t, SampleHosts(), hosts)
	assert.Equal(t, SamplePackages(), packages)
}

func TestSave_Conflict(t *testing.T) {
	svc := New(conflictingFiles{localfs.New(t.TempDir())}, "", "")
	err := svc.SavePackages(context.Background(), SamplePackages())
	assert.True(t, errors.Is(err, workflow.ErrVersionConflict))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(SampleHosts()))
	assert.NoError(t, Validate(SamplePackages()))

	bad := &models.HostInventory{Classes: []models.HostClass{{
		Name:    "",
		Servers: []models.Server{{Name: "x", IP: "not-an-ip"}},
	}}}
	err := Validate(bad)
	require.True(t, errors.Is(err, ErrInvalidInventory))
	assert.ErrorContains(t, err, "Name")
	assert.ErrorContains(t, err, "IP")

	pkgs := SamplePackages()
	pkgs.Packages[0].Type = "heavy"
	assert.True(t, errors.Is(Validate(pkgs), ErrInvalidInventory))

	svc := New(localfs.New(t.TempDir()), "", "")
	assert.True(t, errors.Is(svc.SavePackages(context.Background(), pkgs), ErrInvalidInventory))
}

func TestLookups(t *testing.T) {
	hosts := SampleHosts()
	class, ok := FindClass(hosts, "azure_uf")
	require.True(t, ok)
	assert.Equal(t, []string{"azure_uf_1", "azure_uf_2"}, ServerNames(class))

	_, ok = FindClass(hosts, "missing")
	assert.False(t, ok)
	_, ok = FindClass(nil, "azure_uf")
	assert.False(t, ok)

	assert.Equal(t, []string{"azure_hf_1"}, TargetServers(hosts, "azure_hf", models.ModeSingleServer, "azure_hf_1"))
	assert.Equal(t, []string{"azure_hf_1", "azure_hf_2"}, TargetServers(hosts, "azure_hf", models.ModeAllServersInClass, ""))
	assert.Nil(t, TargetServers(hosts, "azure_hf", models.ModeSingleServer, ""))

	pkg, ok := FindPackage(SamplePackages(), "splunk_uf_9.4.6")
	require.True(t, ok)
	assert.Equal(t, "forwarder", pkg.Type)
}

func TestLatestPackage(t *testing.T) {
	inv := &models.PackageInventory{Packages: []models.Package{
		{ID: "a", Type: "enterprise", Version: "9.2.10"},
		{ID: "b", Type: "enterprise", Version: "9.10.1"},
		{ID: "c", Type: "enterprise", Version: "garbage"},
		{ID: "d", Type: "forwarder", Version: "10.0.0"},
	}}
	p, ok := LatestPackage(inv, "enterprise")
	require.True(t, ok)
	assert.Equal(t, "b", p.ID)

	_, ok = LatestPackage(inv, "unknown")
	assert.False(t, ok)
}
