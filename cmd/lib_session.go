package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/transport/sim"
	"github.com/fornellas/cnccon/transport/wsclient"
	"github.com/fornellas/cnccon/worker_manager"
)

var address string
var defaultAddress = "ws://localhost:8000/socket.io/"

var token string
var defaultToken = ""

var portName string
var defaultPortName = ""

var controllerType string
var defaultControllerType = firmware.TypeGrbl.String()

var baudRate int
var defaultBaudRate = 115200

var simulate bool
var defaultSimulate = false

var commandQueueSize int
var defaultCommandQueueSize = 10

func AddSessionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&address, "address", "a", defaultAddress, "Session server WebSocket URL")
	cmd.PersistentFlags().StringVarP(&token, "token", "", defaultToken, "Session server access token")
	cmd.PersistentFlags().StringVarP(&portName, "port-name", "p", defaultPortName, "Machine controller port to open at the session server")
	cmd.PersistentFlags().StringVarP(&controllerType, "controller-type", "c", defaultControllerType, fmt.Sprintf("Machine controller firmware, one of %v", firmware.Types()))
	cmd.PersistentFlags().IntVarP(&baudRate, "baud-rate", "b", defaultBaudRate, "Machine controller baud rate")
	cmd.PersistentFlags().BoolVarP(&simulate, "simulate", "", defaultSimulate, "Use a simulated machine controller instead of the session server")
	cmd.PersistentFlags().IntVarP(&commandQueueSize, "command-queue-size", "", defaultCommandQueueSize, "Commands waiting to be sent before new ones are refused")
}

func getSessionAttrs() []any {
	return []any{
		"address", address,
		"port-name", portName,
		"controller-type", controllerType,
		"baud-rate", baudRate,
		"simulate", simulate,
	}
}

// Session is a controller.Controller connected to a transport.
type Session struct {
	Controller *controller.Controller
	client     *wsclient.Client
	machine    *sim.Machine
}

// NewSession connects to the session server, or creates a simulated machine.
func NewSession(ctx context.Context) (*Session, error) {
	firmwareType, err := firmware.ParseType(controllerType)
	if err != nil {
		return nil, err
	}

	s := &Session{}
	var transport controller.Transport
	if simulate {
		ident := portName
		if ident == "" {
			ident = "simulated"
		}
		s.machine, err = sim.NewMachine(firmwareType, ident, nil)
		if err != nil {
			return nil, err
		}
		transport = s.machine
	} else {
		if portName == "" {
			return nil, errors.New("--port-name is required, unless --simulate is set")
		}
		s.client, err = wsclient.Dial(ctx, address, &wsclient.ClientOptions{Token: token})
		if err != nil {
			return nil, err
		}
		transport = s.client
	}

	s.Controller = controller.NewController(transport, &controller.ControllerOptions{
		CommandQueueSize: commandQueueSize,
	})
	return s, nil
}

// AddWorkers adds all workers required by the session; they must be added before any worker that
// depends on the controller.
func (s *Session) AddWorkers(workerManager *worker_manager.WorkerManager) {
	eventCh := make(chan controller.RawEvent, 100)

	if s.machine != nil {
		workerManager.AddWorker("Simulator", func(ctx context.Context) error {
			return s.machine.Worker(ctx, eventCh)
		})
	} else {
		workerManager.AddWorker("Session", func(ctx context.Context) error {
			firmwareType, err := firmware.ParseType(controllerType)
			if err != nil {
				return err
			}
			if err := s.client.Open(ctx, portName, firmwareType, baudRate); err != nil {
				return err
			}
			return s.client.Worker(ctx, eventCh)
		})
	}

	workerManager.AddWorker("Controller.EventWorker", func(ctx context.Context) error {
		return s.Controller.EventWorker(ctx, eventCh)
	})
	workerManager.AddWorker("Controller.CommandWorker", s.Controller.CommandWorker)
}

// Close closes the port at the session server and disconnects. The port is left for the session
// server to close when the connection was already lost.
func (s *Session) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	logger := log.MustLogger(ctx)
	logger.Info("Closing port", "port-name", portName)
	err := s.client.ClosePort(ctx, portName)
	if errors.Is(err, net.ErrClosed) {
		logger.Debug("Connection already closed", "err", err)
		err = nil
	}
	logger.Info("Disconnecting")
	return errors.Join(err, s.client.Close())
}

func init() {
	resetFlagsFns = append(resetFlagsFns, func() {
		address = defaultAddress
		token = defaultToken
		portName = defaultPortName
		controllerType = defaultControllerType
		baudRate = defaultBaudRate
		simulate = defaultSimulate
		commandQueueSize = defaultCommandQueueSize
	})
}
