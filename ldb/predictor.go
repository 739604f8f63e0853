package ldb

// Predictor forecasts an object's next load from its recent history, oldest first.
type Predictor interface {
	Predict(history []float64) float64
}

// MovingAverage predicts the mean of the history window.
type MovingAverage struct{}

func (MovingAverage) Predict(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range history {
		sum += v
	}
	return sum / float64(len(history))
}

// PredictorOn starts recording load history and, once Args.PredictorDelay
// steps are recorded, feeds p's forecast to strategies instead of the last
// measurement. window bounds the history kept per object.
func (m *Manager) PredictorOn(p Predictor, window int) {
	if window < 1 {
		window = 1
	}
	m.predMu.Lock()
	defer m.predMu.Unlock()
	m.predictor = p
	m.predictWindow = window
	if m.history == nil {
		m.history = make(map[ObjectID][]float64)
	}
}

// PredictorOff stops forecasting and drops the recorded history.
func (m *Manager) PredictorOff() {
	m.predMu.Lock()
	defer m.predMu.Unlock()
	m.predictor = nil
	m.history = nil
}

// ChangePredictor swaps the model, keeping the history.
func (m *Manager) ChangePredictor(p Predictor) {
	m.predMu.Lock()
	defer m.predMu.Unlock()
	if m.predictor != nil {
		m.predictor = p
	}
}

// observeLoads appends each object's measured load to its history.
func (m *Manager) observeLoads(objs []Object) {
	m.predMu.Lock()
	defer m.predMu.Unlock()
	if m.predictor == nil {
		return
	}
	for _, o := range objs {
		h := append(m.history[o.ID], m.measured(o))
		if len(h) > m.predictWindow {
			h = h[len(h)-m.predictWindow:]
		}
		m.history[o.ID] = h
	}
}

func (m *Manager) predict(o Object) float64 {
	load := m.measured(o)
	m.predMu.Lock()
	defer m.predMu.Unlock()
	if m.predictor == nil {
		return load
	}
	h := m.history[o.ID]
	if len(h) < m.args.PredictorDelay || len(h) == 0 {
		return load
	}
	return m.predictor.Predict(h)
}

func (m *Manager) measured(o Object) float64 {
	if m.args.UseCPUTime {
		return o.CPULoad
	}
	return o.WallLoad
}
