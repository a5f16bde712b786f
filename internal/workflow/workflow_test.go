package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/playsafesec/upgradeboard/internal/models"
)

func TestDispatchInputs_Validate(t *testing.T) {
	tests := []struct {
		name    string
		in      DispatchInputs
		wantErr string
	}{
		{"single ok", DispatchInputs{TargetMode: models.ModeSingleServer, HostClass: "azure_hf", ServerName: "azure_hf_1", PackageID: "p"}, ""},
		{"all ok without server", DispatchInputs{TargetMode: models.ModeAllServersInClass, HostClass: "azure_hf", PackageID: "p"}, ""},
		{"missing class", DispatchInputs{TargetMode: models.ModeAllServersInClass, PackageID: "p"}, "host class is required"},
		{"missing package", DispatchInputs{TargetMode: models.ModeAllServersInClass, HostClass: "c"}, "package is required"},
		{"single needs server", DispatchInputs{TargetMode: models.ModeSingleServer, HostClass: "c", PackageID: "p"}, "server is required"},
		{"bad mode", DispatchInputs{TargetMode: "rolling", HostClass: "c", PackageID: "p"}, "unknown target mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidInputs))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDispatchInputs_Map(t *testing.T) {
	in := DispatchInputs{TargetMode: models.ModeAllServersInClass, HostClass: "idx", PackageID: "p"}
	m := in.Map()
	assert.Equal(t, "all_servers_in_class", m["target_mode"])
	assert.NotContains(t, m, "server_name")

	in.ServerName = "idx1"
	assert.Equal(t, "idx1", in.Map()["server_name"])
}
