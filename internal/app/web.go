package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/kick_trigger/internal/config"
	"github.com/relabs-tech/kick_trigger/internal/imu"
	"github.com/relabs-tech/kick_trigger/internal/kick"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSEvent is the envelope pushed to browser clients for every MQTT
// message the web server relays. Clients send the same envelope back
// with type "thresholds" to change the detector thresholds.
type WSEvent struct {
	Type    string      `json:"type"` // sample, kick, session, thresholds
	Payload interface{} `json:"payload"`
}

// wsInbound is the client-to-server shape of WSEvent.
type wsInbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// wsHub fans MQTT traffic out to all connected websocket clients.
type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *wsHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// broadcast sends the event to every client, dropping clients whose
// connection errors.
func (h *wsHub) broadcast(ev WSEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("web: websocket write error, dropping client: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// webServer holds the web UI's mutable state plus the MQTT publish hook,
// so the HTTP handlers can be exercised without a broker.
type webServer struct {
	hub *wsHub

	// publish hands a payload to the MQTT client (retained).
	publish func(topic string, payload []byte) error

	topicThresholds string

	mu            sync.RWMutex
	lastSample    imu.Sample
	haveSample    bool
	lastSession   SessionMessage
	haveSession   bool
	thresholds    kick.Thresholds
	kickCount     int
	lastIntensity float64
}

func newWebServer(thresholds kick.Thresholds, topicThresholds string, publish func(topic string, payload []byte) error) *webServer {
	return &webServer{
		hub:             newWSHub(),
		publish:         publish,
		topicThresholds: topicThresholds,
		thresholds:      thresholds,
	}
}

func (s *webServer) onSample(smp imu.Sample) {
	s.mu.Lock()
	s.lastSample = smp
	s.haveSample = true
	s.mu.Unlock()
	s.hub.broadcast(WSEvent{Type: "sample", Payload: smp})
}

func (s *webServer) onKick(k KickMessage) {
	s.mu.Lock()
	s.kickCount++
	s.lastIntensity = k.Intensity
	s.mu.Unlock()
	s.hub.broadcast(WSEvent{Type: "kick", Payload: k})
}

func (s *webServer) onSession(msg SessionMessage) {
	s.mu.Lock()
	s.lastSession = msg
	s.haveSession = true
	s.mu.Unlock()
	s.hub.broadcast(WSEvent{Type: "session", Payload: msg})
}

func (s *webServer) onThresholds(th kick.Thresholds) {
	s.mu.Lock()
	s.thresholds = th
	s.mu.Unlock()
}

// setThresholds validates and publishes a threshold change. Shared by the
// POST endpoint and the websocket inbound path; the change takes effect
// when it arrives back on the thresholds topic.
func (s *webServer) setThresholds(th kick.Thresholds) error {
	if th.Upper <= 0 || th.Lower <= 0 {
		return fmt.Errorf("thresholds must be positive")
	}
	payload, err := json.Marshal(th)
	if err != nil {
		return err
	}
	if err := s.publish(s.topicThresholds, payload); err != nil {
		return err
	}
	log.Printf("web: published thresholds upper=%.3f lower=%.3f", th.Upper, th.Lower)
	return nil
}

// routes builds the HTTP mux: JSON API, websocket feed, static files.
func (s *webServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/thresholds", s.handleThresholds)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func (s *webServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.haveSample && !s.haveSession {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	status := struct {
		Sample        imu.Sample     `json:"sample"`
		Session       SessionMessage `json:"session"`
		KickCount     int            `json:"kick_count"`
		LastIntensity float64        `json:"last_intensity"`
	}{s.lastSample, s.lastSession, s.kickCount, s.lastIntensity}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *webServer) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.haveSession {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.lastSession); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *webServer) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		th := s.thresholds
		s.mu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(th); err != nil {
			log.Printf("web: json encode error: %v", err)
		}

	case http.MethodPost:
		var th kick.Thresholds
		if err := json.NewDecoder(r.Body).Decode(&th); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := s.setThresholds(th); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	s.hub.add(conn)
	log.Printf("web: websocket client connected from %s", r.RemoteAddr)

	// Inbound loop: threshold updates from the browser; anything else is
	// ignored. The loop ending means the client went away.
	go func() {
		defer s.hub.remove(conn)
		for {
			var msg wsInbound
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "thresholds" {
				continue
			}
			var th kick.Thresholds
			if err := json.Unmarshal(msg.Payload, &th); err != nil {
				log.Printf("web: websocket thresholds unmarshal error: %v", err)
				continue
			}
			if err := s.setThresholds(th); err != nil {
				log.Printf("web: websocket thresholds rejected: %v", err)
			}
		}
	}()
}

// RunWeb serves the kick monitor UI: a websocket feed of samples, kicks
// and session state (accepting threshold updates on the same socket),
// plus a small JSON API.
func RunWeb() error {
	cfg := config.Get()

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Retained so the producer picks changes up even after a restart.
	publish := func(topic string, payload []byte) error {
		if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	}

	srv := newWebServer(
		kick.Thresholds{Upper: cfg.UpperThreshold, Lower: cfg.LowerThreshold},
		cfg.TopicThresholds,
		publish,
	)

	// 2) Subscribe and relay to websocket clients
	sampleToken := client.Subscribe(cfg.TopicSamples, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var smp imu.Sample
		if err := json.Unmarshal(msg.Payload(), &smp); err != nil {
			log.Printf("web: sample unmarshal error: %v", err)
			return
		}
		srv.onSample(smp)
	})
	sampleToken.Wait()
	if sampleToken.Error() != nil {
		return sampleToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicSamples)

	kickToken := client.Subscribe(cfg.TopicKicks, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var k KickMessage
		if err := json.Unmarshal(msg.Payload(), &k); err != nil {
			log.Printf("web: kick unmarshal error: %v", err)
			return
		}
		srv.onKick(k)
	})
	kickToken.Wait()
	if kickToken.Error() != nil {
		return kickToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicKicks)

	sessionToken := client.Subscribe(cfg.TopicSession, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s SessionMessage
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("web: session unmarshal error: %v", err)
			return
		}
		srv.onSession(s)
	})
	sessionToken.Wait()
	if sessionToken.Error() != nil {
		return sessionToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicSession)

	// Track threshold changes published by anyone (including us).
	thToken := client.Subscribe(cfg.TopicThresholds, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var th kick.Thresholds
		if err := json.Unmarshal(msg.Payload(), &th); err != nil {
			log.Printf("web: thresholds unmarshal error: %v", err)
			return
		}
		srv.onThresholds(th)
	})
	thToken.Wait()
	if thToken.Error() != nil {
		return thToken.Error()
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, srv.routes())
}
