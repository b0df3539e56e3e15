package revenue

// Recorder receives pipeline events. observability.PipelineMetrics is the
// production implementation.
type Recorder interface {
	PageFetched(relation string, rows int)
	PageRetried(relation string)
	RelationFallback(from, to string)
	MalformedRows(n int)
	CacheLookup(tier string, hit bool)
	WindowAborted(reason string)
}

type nopRecorder struct{}

func (nopRecorder) PageFetched(string, int) {}
func (nopRecorder) PageRetried(string) {}
func (nopRecorder) RelationFallback(string, string) {}
func (nopRecorder) MalformedRows(int) {}
func (nopRecorder) CacheLookup(string, bool) {}
func (nopRecorder) WindowAborted(string) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
