// Package inventory loads and saves the host and package inventories that
// drive upgrade selections.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

// Default inventory locations in the workflow repository.
const (
	DefaultHostPath    = "inventory/host.json"
	DefaultPackagePath = "inventory/package.json"
)

// ErrInvalidInventory wraps inventory validation failures.
var ErrInvalidInventory = errors.New("invalid inventory")

var validate = validator.New()

// Service reads and writes inventories through a workflow.FileStore.
type Service struct {
	files       workflow.FileStore
	hostPath    string
	packagePath string
}

// New creates a service. Empty paths use the defaults.
func New(files workflow.FileStore, hostPath, packagePath string) *Service {
	if hostPath == "" {
		hostPath = DefaultHostPath
	}
	if packagePath == "" {
		packagePath = DefaultPackagePath
	}
	return &Service{files: files, hostPath: hostPath, packagePath: packagePath}
}

// Load fetches both inventories concurrently.
func (s *Service) Load(ctx context.Context) (*models.HostInventory, *models.PackageInventory, error) {
	var (
		hosts    *models.HostInventory
		packages *models.PackageInventory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hosts, err = s.LoadHosts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		packages, err = s.LoadPackages(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return hosts, packages, nil
}

// LoadOrSample loads both inventories, falling back to the sample data when
// the file store is unavailable.
func (s *Service) LoadOrSample(ctx context.Context) (*models.HostInventory, *models.PackageInventory) {
	hosts, packages, err := s.Load(ctx)
	if err != nil {
		logrus.Warnf("Failed to load inventories, using sample data: %v", err)
		return SampleHosts(), SamplePackages()
	}
	return hosts, packages
}

// LoadHosts fetches the host inventory.
func (s *Service) LoadHosts(ctx context.Context) (*models.HostInventory, error) {
	var inv models.HostInventory
	if _, err := s.read(ctx, s.hostPath, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// LoadPackages fetches the package inventory.
func (s *Service) LoadPackages(ctx context.Context) (*models.PackageInventory, error) {
	var inv models.PackageInventory
	if _, err := s.read(ctx, s.packagePath, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// SaveHosts validates and writes the host inventory.
func (s *Service) SaveHosts(ctx context.Context, inv *models.HostInventory) error {
	if err := Validate(inv); err != nil {
		return err
	}
	return s.write(ctx, s.hostPath, inv, "Update host inventory via dashboard")
}

// SavePackages validates and writes the package inventory.
func (s *Service) SavePackages(ctx context.Context, inv *models.PackageInventory) error {
	if err := Validate(inv); err != nil {
		return err
	}
	return s.write(ctx, s.packagePath, inv, "Update package inventory via dashboard")
}

func (s *Service) read(ctx context.Context, path string, v any) (string, error) {
	data, version, err := s.files.GetFile(ctx, path)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return version, nil
}

// write is a read-modify-write: the current version token guards the PUT.
func (s *Service) write(ctx context.Context, path string, v any, message string) error {
	_, version, err := s.files.GetFile(ctx, path)
	if err != nil && !errors.Is(err, workflow.ErrNotFound) {
		return fmt.Errorf("load %s: %w", path, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	content := bytes.TrimRight(buf.Bytes(), "\n")

	if err := s.files.PutFile(ctx, path, content, version, message); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	logrus.WithField("path", path).Info("Inventory saved")
	return nil
}

// Validate checks an inventory document.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInventory, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInventory, strings.Join(msgs, "; "))
}

// FindClass returns the host class called name.
func FindClass(inv *models.HostInventory, name string) (*models.HostClass, bool) {
	if inv == nil {
		return nil, false
	}
	for i := range inv.Classes {
		if inv.Classes[i].Name == name {
			return &inv.Classes[i], true
		}
	}
	return nil, false
}

// ServerNames lists the server names of a class in inventory order.
func ServerNames(class *models.HostClass) []string {
	if class == nil {
		return nil
	}
	names := make([]string, len(class.Servers))
	for i, srv := range class.Servers {
		names[i] = srv.Name
	}
	return names
}

// TargetServers returns the servers an upgrade touches: the selected server
// in single server mode, otherwise every server of the class.
func TargetServers(inv *models.HostInventory, className string, mode models.UpgradeMode, server string) []string {
	if mode == models.ModeSingleServer {
		if server == "" {
			return nil
		}
		return []string{server}
	}
	class, _ := FindClass(inv, className)
	return ServerNames(class)
}

// FindPackage returns the package with the given id.
func FindPackage(inv *models.PackageInventory, id string) (*models.Package, bool) {
	if inv == nil {
		return nil, false
	}
	for i := range inv.Packages {
		if inv.Packages[i].ID == id {
			return &inv.Packages[i], true
		}
	}
	return nil, false
}

// LatestPackage returns the highest semantic version of the given package
// type. Unparseable versions sort lowest.
func LatestPackage(inv *models.PackageInventory, typ string) (*models.Package, bool) {
	if inv == nil {
		return nil, false
	}
	var best *models.Package
	for i := range inv.Packages {
		p := &inv.Packages[i]
		if p.Type != typ {
			continue
		}
		if best == nil || semver.Compare(canonical(p.Version), canonical(best.Version)) > 0 {
			best = p
		}
	}
	return best, best != nil
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// SampleHosts is the host inventory used when none can be loaded.
func SampleHosts() *models.HostInventory {
	return &models.HostInventory{Classes: []models.HostClass{
		{
			Name: "azure_hf",
			Servers: []models.Server{
				{SN: "1", IP: "20.84.40.194", Name: "azure_hf_1", Role: "HF", OS: "redhat"},
				{SN: "2", IP: "30.84.50.94", Name: "azure_hf_2", Role: "HF", OS: "redhat"},
			},
		},
		{
			Name: "azure_uf",
			Servers: []models.Server{
				{SN: "1", IP: "64.34.40.194", Name: "azure_uf_1", Role: "UF", OS: "redhat"},
				{SN: "2", IP: "54.84.90.84", Name: "azure_uf_2", Role: "UF", OS: "redhat"},
			},
		},
	}}
}

// SamplePackages is the package inventory used when none can be loaded.
func SamplePackages() *models.PackageInventory {
	return &models.PackageInventory{Packages: []models.Package{
		{
			ID:          "splunk_enterprise_9.3.2",
			Name:        "Splunk Enterprise",
			Type:        "enterprise",
			Version:     "9.3.2",
			Build:       "d8bb32809498",
			Platform:    "Linux-x86_64",
			DownloadURL: "https://download.splunk.com/products/splunk/releases/9.3.2/linux/splunk-9.3.2-d8bb32809498-Linux-x86_64.tgz",
			Filename:    "splunk-9.3.2-d8bb32809498-Linux-x86_64.tgz",
			InstallPath: "/opt/splunk",
		},
		{
			ID:          "splunk_uf_9.4.6",
			Name:        "Splunk Universal Forwarder",
			Type:        "forwarder",
			Version:     "9.4.6",
			Build:       "60284236e579",
			Platform:    "linux-amd64",
			DownloadURL: "https://download.splunk.com/products/universalforwarder/releases/9.4.6/linux/splunkforwarder-9.4.6-60284236e579-linux-amd64.tgz",
			Filename:    "splunkforwarder-9.4.6-60284236e579-linux-amd64.tgz",
			InstallPath: "/opt/splunkforwarder",
		},
	}}
}
