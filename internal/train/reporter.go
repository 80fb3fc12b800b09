package train

// Reporter receives progress from a training run. Implementations must not
// block for long; they are called on the training goroutine.
type Reporter interface {
	// OnBatch is called after each training batch with 1-based counters.
	OnBatch(epoch, batch, batches int, loss float64)

	// OnEpoch is called once per completed epoch.
	OnEpoch(e EpochResult)

	// OnEarlyStop is called when validation loss failed to improve for
	// epochs consecutive epochs.
	OnEarlyStop(epochs int)

	// OnWarning reports a problem that does not stop training.
	OnWarning(err error)
}

type nopReporter struct{}

func (nopReporter) OnBatch(int, int, int, float64) {}
func (nopReporter) OnEpoch(EpochResult)            {}
func (nopReporter) OnEarlyStop(int)                {}
func (nopReporter) OnWarning(error)                {}
