package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"smartfilterpro/internal/models"
)

const (
	connectTimeout  = 10 * time.Second
	retryInterval   = 5 * time.Second
	defaultDebounce = 500 * time.Millisecond
)

// StatestreamSource folds Home Assistant's MQTT statestream back into whole
// snapshots. Statestream publishes the entity state and each attribute on its
// own topic, so updates for one logical change arrive as a burst; a short
// debounce merges the burst before emitting.
type StatestreamSource struct {
	broker   string
	prefix   string
	clientID string
	entityID string
	debounce time.Duration
	log      *zap.SugaredLogger
}

func NewStatestreamSource(broker, prefix, clientID, entityID string, log *zap.SugaredLogger) *StatestreamSource {
	return &StatestreamSource{
		broker:   broker,
		prefix:   strings.Trim(prefix, "/"),
		clientID: clientID,
		entityID: entityID,
		debounce: defaultDebounce,
		log:      log,
	}
}

var _ Source = (*StatestreamSource)(nil)

// update is one statestream topic delivery, already keyed.
type update struct {
	key     string // attribute name, or "state"
	value   any
	isState bool
}

func (s *StatestreamSource) Run(ctx context.Context, ingest chan<- models.Snapshot) error {
	updates := make(chan update, 64)
	topic := s.topicFilter()

	opts := paho.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(s.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval)

	opts.SetOnConnectHandler(func(c paho.Client) {
		s.log.Infow("mqtt connected, subscribing", "broker", s.broker, "topic", topic)
		tok := c.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
			u, ok := s.parse(msg.Topic(), msg.Payload())
			if !ok {
				return
			}
			select {
			case updates <- u:
			default:
				s.log.Warnw("statestream update dropped, fold queue full", "topic", msg.Topic())
			}
		})
		if tok.Wait() && tok.Error() != nil {
			s.log.Errorw("subscribe failed", "topic", topic, "err", tok.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.log.Warnw("mqtt connection lost", "err", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect timeout to %s", s.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.broker, err)
	}
	defer client.Disconnect(1000)

	return s.fold(ctx, updates, ingest)
}

// fold merges per-topic updates into snapshots, emitting one snapshot per
// quiet period.
func (s *StatestreamSource) fold(ctx context.Context, updates <-chan update, ingest chan<- models.Snapshot) error {
	attrs := make(map[string]any)
	state := ""

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case u := <-updates:
			if u.isState {
				state = fmt.Sprint(u.value)
			} else {
				attrs[u.key] = u.value
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.debounce)

		case <-timer.C:
			snap := models.Snapshot{
				EntityID:   s.entityID,
				State:      state,
				Available:  stateAvailable(state),
				Attributes: copyAttrs(attrs),
			}
			if err := deliver(ctx, ingest, snap); err != nil {
				return err
			}
		}
	}
}

// topicFilter converts "climate.living_room" into
// "<prefix>/climate/living_room/#".
func (s *StatestreamSource) topicFilter() string {
	return s.prefix + "/" + strings.Replace(s.entityID, ".", "/", 1) + "/#"
}

// parse extracts the trailing key from a statestream topic and decodes the
// payload. Statestream JSON-encodes attribute values; bare strings come
// through as-is.
func (s *StatestreamSource) parse(topic string, payload []byte) (update, bool) {
	base := s.prefix + "/" + strings.Replace(s.entityID, ".", "/", 1) + "/"
	if !strings.HasPrefix(topic, base) {
		return update{}, false
	}
	key := strings.TrimPrefix(topic, base)
	if key == "" || strings.Contains(key, "/") {
		return update{}, false
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		value = string(payload)
	}

	return update{key: key, value: value, isState: key == "state"}, true
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
