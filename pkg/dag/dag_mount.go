package dag

import (
	"github.com/kairos-io/diskcore/pkg/state"
	"github.com/spectrocloud-labs/herd"
)

// RegisterMount registers only the steps that open and mount the layout and
// write its fstab. Used to get a target ready without installing anything.
func RegisterMount(s *state.State, g *herd.Graph) error {
	if s.Config.IsPreMounted() {
		return nil
	}
	return registerMount(s, g, &chain{})
}
