package database

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"cryptocompare-telegram-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"
)

const (
	alertPrefix  = "alerts:"
	metricPrefix = "metrics:"
)

// Bunt stores alerts and metrics in a buntdb file, one key per chat
type Bunt struct {
	db *buntdb.DB
}

type metricRecord struct {
	LabelKey   string  `json:"label_key"`
	LabelValue string  `json:"label_value"`
	Value      float64 `json:"value"`
}

// OpenBunt opens a buntdb file. ":memory:" keeps everything in memory.
func OpenBunt(path string) (*Bunt, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open buntdb")
	}
	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.EverySecond}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure buntdb")
	}
	log.Infof("buntdb store initialized at %s", path)
	return &Bunt{db: db}, nil
}

func (b *Bunt) Close() error {
	return b.db.Close()
}

func chatKey(chatID int64) string {
	return alertPrefix + strconv.FormatInt(chatID, 10)
}

func (b *Bunt) SaveChat(_ context.Context, chatID int64, conditions []types.Condition) error {
	payload, err := encodeChat(conditions)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(chatKey(chatID), payload, nil); err != nil {
			return errors.Wrapf(err, "failed to save alerts of chat %d", chatID)
		}
		return nil
	})
}

func (b *Bunt) DeleteChat(_ context.Context, chatID int64) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(chatKey(chatID))
		if err != nil && err != buntdb.ErrNotFound {
			return errors.Wrapf(err, "failed to delete alerts of chat %d", chatID)
		}
		return nil
	})
}

func (b *Bunt) LoadAll(_ context.Context) ([]types.Condition, error) {
	var out []types.Condition
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(alertPrefix+"*", func(key, value string) bool {
			chatID, err := strconv.ParseInt(strings.TrimPrefix(key, alertPrefix), 10, 64)
			if err != nil {
				log.Errorf("skipping alert key %q", key)
				return true
			}
			conditions, err := decodeChat(chatID, value)
			if err != nil {
				log.WithError(err).Errorf("skipping unreadable alerts of chat %d", chatID)
				return true
			}
			out = append(out, conditions...)
			return true
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load alerts")
	}
	return out, nil
}

func metricKey(metricName, labelKey, labelValue string) string {
	if labelKey == "" {
		return metricPrefix + metricName
	}
	return metricPrefix + metricName + "|" + labelKey + "|" + labelValue
}

func (b *Bunt) SaveMetric(metricName, labelKey, labelValue string, value float64) error {
	content, err := json.Marshal(metricRecord{LabelKey: labelKey, LabelValue: labelValue, Value: value})
	if err != nil {
		return errors.Wrap(err, "failed to marshal metric")
	}
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(metricKey(metricName, labelKey, labelValue), string(content), nil)
		return errors.Wrap(err, "failed to save metric")
	})
}

func (b *Bunt) GetMetric(metricName string) (float64, error) {
	var value float64
	err := b.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(metricKey(metricName, "", ""))
		if err != nil {
			return err
		}
		var rec metricRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return err
		}
		value = rec.Value
		return nil
	})
	if err == buntdb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get metric %s", metricName)
	}
	return value, nil
}

func (b *Bunt) GetMetricsWithLabels(metricName string) (map[string]map[string]float64, error) {
	metrics := make(map[string]map[string]float64)
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(metricPrefix+metricName+"|*", func(key, value string) bool {
			var rec metricRecord
			if err := json.Unmarshal([]byte(value), &rec); err != nil {
				log.Errorf("skipping metric key %q: %v", key, err)
				return true
			}
			if _, exists := metrics[rec.LabelKey]; !exists {
				metrics[rec.LabelKey] = make(map[string]float64)
			}
			metrics[rec.LabelKey][rec.LabelValue] = rec.Value
			return true
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query metrics with labels")
	}
	return metrics, nil
}
