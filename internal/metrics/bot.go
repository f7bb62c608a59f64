package metrics

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const botSubsystem = "telegram_bot"

// MetricStore persists counter values across restarts
type MetricStore interface {
	SaveMetric(metricName, labelKey, labelValue string, value float64) error
	GetMetric(metricName string) (float64, error)
	GetMetricsWithLabels(metricName string) (map[string]map[string]float64, error)
}

// BotMetrics counts chat traffic. Values are restored from and saved to a MetricStore.
type BotMetrics struct {
	CommandsProcessed  prometheus.Counter
	MessagesHandled    prometheus.Counter
	ChannelsCount      prometheus.Gauge
	ChannelNames       *prometheus.CounterVec
	MessagesPerChannel *prometheus.CounterVec

	mu       sync.Mutex
	channels map[int64]string
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		CommandsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: botSubsystem,
			Name:      "commands_processed",
			Help:      "The total number of processed commands",
		}),
		MessagesHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: botSubsystem,
			Name:      "messages_handled",
			Help:      "The total number of handled messages",
		}),
		ChannelsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: botSubsystem,
			Name:      "channels_count",
			Help:      "The current number of unique chats the bot is operating in",
		}),
		ChannelNames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: botSubsystem,
				Name:      "channel_names",
				Help:      "Tracks chats the bot has interacted with",
			},
			[]string{"chat_id", "chat_name"},
		),
		MessagesPerChannel: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: botSubsystem,
				Name:      "messages_per_channel",
				Help:      "The total number of messages handled per chat",
			},
			[]string{"chat_id", "chat_name"},
		),
		channels: make(map[int64]string),
	}

	reg.MustRegister(m.CommandsProcessed, m.MessagesHandled, m.ChannelsCount, m.ChannelNames, m.MessagesPerChannel)
	return m
}

// ObserveMessage records one handled message from a chat
func (m *BotMetrics) ObserveMessage(chatID int64, chatName string) {
	if chatName == "" {
		chatName = fmt.Sprintf("PrivateChat-%d", chatID)
	}
	id := strconv.FormatInt(chatID, 10)

	m.MessagesHandled.Inc()
	m.MessagesPerChannel.WithLabelValues(id, chatName).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[chatID]; !exists {
		m.channels[chatID] = chatName
		m.ChannelsCount.Set(float64(len(m.channels)))
		m.ChannelNames.WithLabelValues(id, chatName).Inc()
	}
}

func (m *BotMetrics) CommandProcessed() {
	m.CommandsProcessed.Inc()
}

// Channels returns the number of distinct chats seen
func (m *BotMetrics) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Load adds the persisted values to the in-memory collectors
func (m *BotMetrics) Load(store MetricStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	commands, err := store.GetMetric("commands_processed")
	if err != nil {
		return errors.Wrap(err, "load commands_processed")
	}
	messages, err := store.GetMetric("messages_handled")
	if err != nil {
		return errors.Wrap(err, "load messages_handled")
	}
	m.CommandsProcessed.Add(commands)
	m.MessagesHandled.Add(messages)

	names, err := store.GetMetricsWithLabels("channel_names")
	if err != nil {
		return errors.Wrap(err, "load channel_names")
	}
	for idStr, byName := range names {
		chatID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			log.Warnf("skipping channel with bad id %q", idStr)
			continue
		}
		for name := range byName {
			m.ChannelNames.WithLabelValues(idStr, name).Add(1)
			m.channels[chatID] = name
		}
	}
	m.ChannelsCount.Set(float64(len(m.channels)))

	perChannel, err := store.GetMetricsWithLabels("messages_per_channel")
	if err != nil {
		return errors.Wrap(err, "load messages_per_channel")
	}
	for id, byName := range perChannel {
		for name, value := range byName {
			m.MessagesPerChannel.WithLabelValues(id, name).Add(value)
		}
	}

	log.Infof("metrics loaded from database: %d chats", len(m.channels))
	return nil
}

// Save writes the current counter values
func (m *BotMetrics) Save(store MetricStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := store.SaveMetric("commands_processed", "", "", collectedValue(m.CommandsProcessed)); err != nil {
		return errors.Wrap(err, "save commands_processed")
	}
	if err := store.SaveMetric("messages_handled", "", "", collectedValue(m.MessagesHandled)); err != nil {
		return errors.Wrap(err, "save messages_handled")
	}
	if err := store.SaveMetric("channels_count", "", "", float64(len(m.channels))); err != nil {
		return errors.Wrap(err, "save channels_count")
	}

	for chatID, name := range m.channels {
		if err := store.SaveMetric("channel_names", strconv.FormatInt(chatID, 10), name, float64(chatID)); err != nil {
			return errors.Wrap(err, "save channel_names")
		}
	}

	for _, metric := range collect(m.MessagesPerChannel) {
		var chatID, chatName string
		for _, label := range metric.GetLabel() {
			switch label.GetName() {
			case "chat_id":
				chatID = label.GetValue()
			case "chat_name":
				chatName = label.GetValue()
			}
		}
		if err := store.SaveMetric("messages_per_channel", chatID, chatName, metric.GetCounter().GetValue()); err != nil {
			return errors.Wrap(err, "save messages_per_channel")
		}
	}

	log.Debug("metrics saved to database")
	return nil
}

func collect(c prometheus.Collector) []*dto.Metric {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var out []*dto.Metric
	for metric := range ch {
		pb := &dto.Metric{}
		if err := metric.Write(pb); err != nil {
			log.WithError(err).Warn("could not read metric")
			continue
		}
		out = append(out, pb)
	}
	return out
}

// collectedValue reads a single counter or gauge
func collectedValue(c prometheus.Collector) float64 {
	for _, pb := range collect(c) {
		if pb.Counter != nil {
			return pb.Counter.GetValue()
		}
		if pb.Gauge != nil {
			return pb.Gauge.GetValue()
		}
	}
	return 0
}
