//    Copyright 2017 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/environment"
	"github.com/flatsat/BoardWorker/pkg/logging"
	"github.com/flatsat/BoardWorker/pkg/server"
	"github.com/flatsat/BoardWorker/pkg/service"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/ui"
)

const (
	projectName     = "FlatSat Board Worker"
	defaultHTTPPort = 7129
	defaultSSHPort  = 7122
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
	maskAny        = errors.WithStack
)

func main() {
	var levelFlag string
	var bridgeType string
	var configPath string
	var hostID string
	var serverHost string
	var httpPort int
	var sshPort int
	var once bool

	pflag.StringVarP(&levelFlag, "level", "l", "debug", "Set log level")
	pflag.StringVarP(&bridgeType, "bridge", "b", "auto", "Type of bridge to use (auto|linux|virtual)")
	pflag.StringVarP(&configPath, "config", "c", "board.yaml", "Path of the board configuration file")
	pflag.StringVar(&hostID, "host-id", "", "Override the host ID of this board")
	pflag.StringVar(&serverHost, "host", "0.0.0.0", "Host address the HTTP & SSH servers will listen on")
	pflag.IntVar(&httpPort, "http-port", defaultHTTPPort, "Port the HTTP server will listen on")
	pflag.IntVar(&sshPort, "ssh-port", defaultSSHPort, "Port the SSH server will listen on (0 disables)")
	pflag.BoolVar(&once, "once", false, "Sample all sensors once, print the readings and exit")
	pflag.Parse()

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())

	level, err := zerolog.ParseLevel(levelFlag)
	if err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	}
	mqttWriter := logging.NewMQTTWriter(ctx)
	logWriter := logging.NewMultiWriter(zerolog.ConsoleWriter{Out: os.Stderr}, mqttWriter)
	logger := zerolog.New(logWriter).Level(level).With().Timestamp().Logger()

	board, err := model.LoadBoardConfiguration(configPath)
	if err != nil {
		Exitf("Failed to load configuration: %v\n", err)
	}

	if bridgeType == "auto" {
		bridgeType = environment.AutoDetectBridgeType(logger)
	}
	br, err := newBridge(bridgeType, board.Bridge)
	if err != nil {
		Exitf("Failed to initialize %s bridge: %v\n", bridgeType, err)
	}

	svcConfig := service.Config{
		ProgramVersion: projectVersion,
		HostID:         hostID,
		ConfigPath:     configPath,
		Board:          board,
	}
	if once {
		svcConfig.ConfigPath = ""
	}
	svc, err := service.NewService(svcConfig, service.Dependencies{
		Logger:    logger,
		Bridge:    br,
		LogWriter: mqttWriter,
	})
	if err != nil {
		Exitf("Failed to initialize Service: %v\n", err)
	}

	if once {
		readings, err := svc.SampleOnce(ctx)
		br.Close()
		if err != nil {
			Exitf("Sampling failed: %v\n", err)
		}
		fmt.Print(ui.RenderReadings(readings))
		return
	}

	srv, err := server.New(server.Config{
		Host:     serverHost,
		HTTPPort: httpPort,
		SSHPort:  sshPort,
	}, logger, ui.New(svc), svc)
	if err != nil {
		Exitf("Failed to initialize Server: %v\n", err)
	}

	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	if err := g.Wait(); err != nil {
		Exitf("Service run failed: %#v", err)
	}
}

// newBridge creates the bridge of the given type.
func newBridge(bridgeType string, conf model.BridgeConfig) (bridge.API, error) {
	switch bridgeType {
	case environment.BridgeTypeLinux:
		br, err := bridge.NewLinuxBridge(linuxConfig(conf))
		if err != nil {
			return nil, maskAny(err)
		}
		return br, nil
	case environment.BridgeTypeVirtual:
		return bridge.NewVirtualBridge(), nil
	default:
		return nil, errors.Errorf("unknown bridge type '%s' (auto|linux|virtual)", bridgeType)
	}
}

// linuxConfig converts the bridge section of the board configuration.
func linuxConfig(conf model.BridgeConfig) bridge.LinuxConfig {
	ports := func(list []model.PortConfig) []bridge.PortConfig {
		result := make([]bridge.PortConfig, 0, len(list))
		for _, p := range list {
			pc := bridge.PortConfig{Name: p.Name}
			for _, pin := range p.Pins {
				pc.Pins = append(pc.Pins, bridge.PinID(pin))
			}
			result = append(result, pc)
		}
		return result
	}
	analogPins := make(map[bridge.PinID]int, len(conf.AnalogPins))
	for pin, channel := range conf.AnalogPins {
		analogPins[bridge.PinID(pin)] = channel
	}
	return bridge.LinuxConfig{
		SPIPorts:        ports(conf.SPIPorts),
		I2CPorts:        ports(conf.I2CPorts),
		AnalogDevice:    conf.AnalogDevice,
		AnalogPins:      analogPins,
		AnalogReference: conf.AnalogReference,
	}
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
