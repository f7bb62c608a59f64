package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	plain   map[string]float64
	labeled map[string]map[string]map[string]float64
}

func newMemStore() *memStore {
	return &memStore{plain: map[string]float64{}, labeled: map[string]map[string]map[string]float64{}}
}

func (s *memStore) SaveMetric(name, key, value string, v float64) error {
	if key == "" {
		s.plain[name] = v
		return nil
	}
	if s.labeled[name] == nil {
		s.labeled[name] = map[string]map[string]float64{}
	}
	if s.labeled[name][key] == nil {
		s.labeled[name][key] = map[string]float64{}
	}
	s.labeled[name][key][value] = v
	return nil
}

func (s *memStore) GetMetric(name string) (float64, error) {
	return s.plain[name], nil
}

func (s *memStore) GetMetricsWithLabels(name string) (map[string]map[string]float64, error) {
	out := map[string]map[string]float64{}
	for k, byValue := range s.labeled[name] {
		out[k] = map[string]float64{}
		for v, n := range byValue {
			out[k][v] = n
		}
	}
	return out, nil
}

func TestBotMetricsSurviveRestart(t *testing.T) {
	store := newMemStore()

	m := NewBotMetrics(prometheus.NewRegistry())
	m.ObserveMessage(1, "")
	m.ObserveMessage(1, "")
	m.ObserveMessage(-100, "traders")
	m.CommandsProcessed.Add(3)
	require.Equal(t, 2, m.Channels())
	require.NoError(t, m.Save(store))

	require.Equal(t, 3.0, store.plain["commands_processed"])
	require.Equal(t, 3.0, store.plain["messages_handled"])
	require.Equal(t, 2.0, store.plain["channels_count"])
	require.Equal(t, 2.0, store.labeled["messages_per_channel"]["1"]["PrivateChat-1"])

	restored := NewBotMetrics(prometheus.NewRegistry())
	require.NoError(t, restored.Load(store))
	require.Equal(t, 2, restored.Channels())
	require.Equal(t, 3.0, collectedValue(restored.CommandsProcessed))
	require.Equal(t, 3.0, collectedValue(restored.MessagesHandled))
	require.Equal(t, 1.0, collectedValue(restored.MessagesPerChannel.WithLabelValues("-100", "traders")))

	// a known chat does not grow the channel count
	restored.ObserveMessage(-100, "traders")
	require.Equal(t, 2.0, collectedValue(restored.ChannelsCount))
}
