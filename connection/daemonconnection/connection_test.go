package daemonconnection

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/quillmq/quillmq-go/connection"
	"github.com/quillmq/quillmq-go/connection/command"
	"github.com/quillmq/quillmq-go/connection/frame"
	"github.com/quillmq/quillmq-go/connection/queue"
	"github.com/quillmq/quillmq-go/connection/transport"
	"github.com/quillmq/quillmq-go/logger"
	"github.com/quillmq/quillmq-go/tests"
)

func TestDaemonConnection(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Daemon Connection Suite")
}

var _ = Describe("Daemon Connection", Ordered, func() {
	var conn *DaemonConnection
	var daemon *tests.FakeDaemon

	// short budgets so timeout paths stay fast
	baseOpts := func() connection.Options {
		return connection.Options{
			ResponseWait:     300 * time.Millisecond,
			ErrorWait:        100 * time.Millisecond,
			ResponseInterval: 20 * time.Millisecond,
		}
	}

	setup := func(opts connection.Options) {
		var clientConn net.Conn
		daemon, clientConn = tests.NewFakeDaemon()
		conn = NewWithTransport(logger.MockLogger(), transport.New(clientConn), opts)

		go daemon.Negotiate(map[string]any{"version": "2.0"})
		Expect(conn.Init()).To(Succeed())
	}

	teardown := func() {
		daemon.Close()
		conn.Close(fmt.Errorf("test over"), time.Second)
	}

	Context("Init", func() {
		When("the handshake succeeds", func() {
			BeforeEach(func() { setup(baseOpts()) })
			AfterEach(teardown)

			It("is ready and exposes the endpoint settings", func() {
				Expect(conn.Ready()).To(BeTrue())
				Expect(conn.EndpointSettings().String("version")).To(Equal("2.0"))
			})

			It("refuses a second init", func() {
				Expect(conn.Init()).ToNot(Succeed())
			})
		})
	})

	Context("Transmit", func() {
		When("the command is fire-and-forget", func() {
			BeforeEach(func() { setup(baseOpts()) })
			AfterEach(teardown)

			It("returns immediately without a frame", func() {
				received := make(chan *tests.ClientCommand, 1)
				go func() {
					if cmd, err := daemon.ReadCommand(); err == nil {
						received <- cmd
					}
				}()

				start := time.Now()
				reply, err := conn.Transmit(command.Ready(5))

				Expect(err).ToNot(HaveOccurred())
				Expect(reply).To(BeNil())
				Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))
				Eventually(received).Should(Receive(HaveField("Name", "RDY")))
			})
		})

		When("the daemon answers a required command", func() {
			BeforeEach(func() { setup(baseOpts()) })
			AfterEach(teardown)

			It("returns the correlated reply", func() {
				go func() {
					daemon.ReadCommand()
					daemon.WriteResponse("OK")
				}()

				reply, err := conn.Transmit(command.Subscribe("orders", "billing"))

				Expect(err).ToNot(HaveOccurred())
				Expect(reply.Content()).To(Equal("OK"))
			})
		})

		When("the daemon answers with an error frame", func() {
			BeforeEach(func() { setup(baseOpts()) })
			AfterEach(teardown)

			It("fails with BadResponseError carrying the reply", func() {
				go func() {
					daemon.ReadCommand()
					daemon.WriteError("E_BAD_TOPIC")
				}()

				_, err := conn.Transmit(command.Publish("bad topic", []byte("x")))

				var badResponse *connection.BadResponseError
				Expect(errors.As(err, &badResponse)).To(BeTrue())
				Expect(badResponse.Reply.Content()).To(Equal("E_BAD_TOPIC"))
				Expect(conn.Ready()).To(BeTrue(), "a per-command failure must not kill the connection")
			})
		})

		When("the daemon stays silent", func() {
			BeforeEach(func() { setup(baseOpts()) })
			AfterEach(teardown)

			It("fails a required command with NoResponseError", func() {
				go daemon.ReadCommand()

				_, err := conn.Transmit(command.Subscribe("orders", "billing"))

				var noResponse *connection.NoResponseError
				Expect(errors.As(err, &noResponse)).To(BeTrue())
			})

			It("treats silence as success for an error-only command", func() {
				go daemon.ReadCommand()

				reply, err := conn.Transmit(command.Finish(frame.MessageId{1}))

				Expect(err).ToNot(HaveOccurred())
				Expect(reply).To(BeNil())
			})
		})
	})

	Context("Reader loop", func() {
		When("the daemon sends a heartbeat", func() {
			BeforeEach(func() { setup(baseOpts()) })
			AfterEach(teardown)

			It("acknowledges with exactly one NOP and never queues the frame", func() {
				received := make(chan *tests.ClientCommand, 1)
				go func() {
					if cmd, err := daemon.ReadCommand(); err == nil {
						received <- cmd
					}
				}()

				Expect(daemon.WriteHeartbeat()).To(Succeed())

				Eventually(received).Should(Receive(HaveField("Name", "NOP")))
				Expect(conn.Messages().Len()).To(Equal(0))

				// the reply queue must be empty too: a required command
				// transmitted now can only time out
				go daemon.ReadCommand()
				_, err := conn.Transmit(command.Subscribe("orders", "billing"))
				var noResponse *connection.NoResponseError
				Expect(errors.As(err, &noResponse)).To(BeTrue())
			})
		})

		When("the daemon pushes a message", func() {
			var notifier *connection.MockNotifier

			BeforeEach(func() {
				notifier = new(connection.MockNotifier)
				notifier.On("Signal", mock.Anything).Return()

				opts := baseOpts()
				opts.Notifier = notifier
				setup(opts)
			})
			AfterEach(teardown)

			It("lands on the message queue and signals the notifier", func() {
				pushed := &frame.Message{
					Id:        frame.MessageId{0x42},
					Timestamp: time.Now(),
					Attempts:  1,
					Body:      []byte("delivery"),
				}
				Expect(daemon.WriteMessage(pushed)).To(Succeed())

				message, ok := conn.Messages().Pop(time.Second)
				Expect(ok).To(BeTrue())
				Expect(message.Id).To(Equal(pushed.Id))
				Expect(message.Body).To(Equal(pushed.Body))

				Eventually(func() int {
					return len(notifier.Calls)
				}).Should(BeNumerically(">", 0))
				notifier.AssertCalled(GinkgoT(), "Signal", mock.Anything)
			})
		})

		When("an inbound handler replaces a frame", func() {
			BeforeEach(func() {
				opts := baseOpts()
				opts.OnInbound = func(f *frame.Frame) *frame.Frame {
					if f.Type == frame.TypeResponse && f.Content() == "sneaky" {
						return &frame.Frame{
							Type:    frame.TypeMessage,
							Message: &frame.Message{Body: f.Body},
						}
					}
					return f
				}
				setup(opts)
			})
			AfterEach(teardown)

			It("dispatches by the transformed variant", func() {
				Expect(daemon.WriteResponse("sneaky")).To(Succeed())

				message, ok := conn.Messages().Pop(time.Second)
				Expect(ok).To(BeTrue())
				Expect(string(message.Body)).To(Equal("sneaky"))
			})
		})

		When("a message queue override is configured", func() {
			var override *queue.Queue[*frame.Message]

			BeforeEach(func() {
				override = queue.New[*frame.Message]()
				opts := baseOpts()
				opts.MessageQueue = override
				setup(opts)
			})
			AfterEach(teardown)

			It("delivers pushed messages there", func() {
				Expect(daemon.WriteMessage(&frame.Message{Body: []byte("x")})).To(Succeed())

				_, ok := override.Pop(time.Second)
				Expect(ok).To(BeTrue())
				Expect(conn.Messages()).To(BeIdenticalTo(override))
			})
		})
	})

	Context("Close", func() {
		When("the daemon drops the connection", func() {
			BeforeEach(func() { setup(baseOpts()) })

			It("terminates with ConnectionClosedError and unblocks a waiting transmit", func() {
				transmitErr := make(chan error, 1)
				go func() {
					daemon.ReadCommand()
					daemon.Close()
				}()
				go func() {
					_, err := conn.Transmit(command.Subscribe("orders", "billing"))
					transmitErr <- err
				}()

				Eventually(conn.Done()).Should(BeClosed())

				var closed *connection.ConnectionClosedError
				Expect(errors.As(conn.Err(), &closed)).To(BeTrue())

				err := <-transmitErr
				Expect(err).To(HaveOccurred())
			})
		})

		When("it is closed from above", func() {
			var commandNames chan string

			BeforeEach(func() {
				setup(baseOpts())

				commandNames = make(chan string, 10)
				go func() {
					for {
						cmd, err := daemon.ReadCommand()
						if err != nil {
							return
						}
						commandNames <- cmd.Name
					}
				}()
			})
			AfterEach(func() { daemon.Close() })

			It("sends a polite close and dies", func() {
				conn.Close(fmt.Errorf("felt like it"), 2*time.Second)

				Expect(conn.Ready()).To(BeFalse())
				Eventually(conn.Done()).Should(BeClosed())
				Eventually(commandNames).Should(Receive(Equal("CLS")))
			})

			It("tolerates two concurrent teardowns", func() {
				var wg sync.WaitGroup
				for i := 0; i < 2; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						conn.Close(fmt.Errorf("concurrent close"), 2*time.Second)
					}()
				}
				wg.Wait()

				Expect(conn.Ready()).To(BeFalse())
				Eventually(conn.Done()).Should(BeClosed())
			})
		})
	})
})
