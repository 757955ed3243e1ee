package main

import (
	"errors"
	"log/slog"

	"github.com/gogpu/nbody"
	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/backend/software"
	"github.com/gogpu/nbody/internal/diag"
	"github.com/gogpu/nbody/particle"
)

var errNoReadback = errors.New("backend cannot read particles back")

type softwareInstance interface {
	SoftwareDevice() *software.Device
}

// reporter compares attractor groups at exit with the state they started
// from and with a random-walk baseline.
type reporter struct {
	dev      *software.Device
	sim      *nbody.Simulation
	perGroup int
	initial  []particle.Particle
}

func newReporter(inst backend.Instance, sim *nbody.Simulation, groups int) (*reporter, error) {
	si, ok := inst.(softwareInstance)
	if !ok {
		return nil, errNoReadback
	}
	if groups <= 0 {
		return nil, diag.ErrGroupSize
	}
	r := &reporter{dev: si.SoftwareDevice(), sim: sim, perGroup: sim.Count() / groups}
	var err error
	if r.initial, err = r.read(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *reporter) read() ([]particle.Particle, error) {
	b, err := r.dev.ReadBuffer(r.sim.Buffer())
	if err != nil {
		return nil, err
	}
	return particle.FromBytes(b)
}

func (r *reporter) log(log *slog.Logger) {
	final, err := r.read()
	if err != nil {
		log.Warn("report", "err", err)
		return
	}
	baseline, err := diag.Perturb(r.initial, final, r.perGroup, r.sim.Seed()+1)
	if err != nil {
		log.Warn("report", "err", err)
		return
	}
	start, err := diag.Groups(r.initial, r.perGroup)
	if err != nil {
		log.Warn("report", "err", err)
		return
	}
	end, _ := diag.Groups(final, r.perGroup)
	static, _ := diag.Groups(baseline, r.perGroup)

	_, startMean, _ := diag.Separations(start)
	seps, endMean, endStd := diag.Separations(end)
	_, staticMean, _ := diag.Separations(static)
	for i, s := range seps {
		log.Info("group", "index", i, "separation", s, "baseline", static[i].Separation())
	}
	log.Info("report",
		"groups", len(end),
		"startSeparation", startMean,
		"separation", endMean,
		"separationStd", endStd,
		"baseline", staticMean)
}
