package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/kick_trigger/internal/config"
	"github.com/relabs-tech/kick_trigger/internal/imu"
)

func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to kicks
	kickToken := client.Subscribe(cfg.TopicKicks, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var k KickMessage
		if err := json.Unmarshal(msg.Payload(), &k); err != nil {
			log.Printf("console: kick unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[KICK]  intensity=%5.2f  time=%s\n",
			k.Intensity, k.Time,
		)
	})
	kickToken.Wait()
	if kickToken.Error() != nil {
		return kickToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicKicks)

	// Subscribe to samples
	sampleToken := client.Subscribe(cfg.TopicSamples, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s imu.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: sample unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[SMPL]  ax=%7.3f ay=%7.3f az=%7.3f  |a|=%6.3f comp=%6.3f  roll=%7.2f pitch=%7.2f yaw=%7.2f\n",
			s.Ax, s.Ay, s.Az, s.AccelMagnitude, s.CompensatedMagnitude, s.Roll, s.Pitch, s.Yaw,
		)
	})
	sampleToken.Wait()
	if sampleToken.Error() != nil {
		return sampleToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSamples)

	// Subscribe to session state
	sessionToken := client.Subscribe(cfg.TopicSession, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s SessionMessage
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: session unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[SESS]  state=%-22s frames=%d dropped=%d kicks=%d\n",
			s.State, s.Frames, s.BytesDropped, s.Kicks,
		)
	})
	sessionToken.Wait()
	if sessionToken.Error() != nil {
		return sessionToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSession)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
