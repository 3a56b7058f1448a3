package meter

import "github.com/ineyio/llmgate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ llmgate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAdmission(llmgate.AdmissionEvent) {}
func (m *NoopMeter) OnForward(llmgate.ForwardEvent)     {}

// Multi fans events out to several meters.
type Multi []llmgate.Meter

var _ llmgate.Meter = Multi(nil)

func (m Multi) OnAdmission(e llmgate.AdmissionEvent) {
	for _, mm := range m {
		mm.OnAdmission(e)
	}
}

func (m Multi) OnForward(e llmgate.ForwardEvent) {
	for _, mm := range m {
		mm.OnForward(e)
	}
}
