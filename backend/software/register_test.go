package software

import (
	"testing"

	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/gpucore"
)

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendSoftware) {
		t.Fatal("software backend should be registered on import")
	}

	inst, err := backend.Open(backend.BackendSoftware, backend.Options{Width: 32, Height: 16, SplitFamilies: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dev := inst.Device()
	if dev.QueueFamily(gpucore.RoleGraphics) == dev.QueueFamily(gpucore.RoleCompute) {
		t.Error("SplitFamilies should give compute its own family")
	}
	if w, h := inst.Presenter().Extent(); w != 32 || h != 16 {
		t.Errorf("Extent = %dx%d, want 32x16", w, h)
	}
	if err := inst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := inst.(*Instance).SoftwareDevice().Live(); n != 0 {
		t.Errorf("%d resources alive after Close", n)
	}
}
