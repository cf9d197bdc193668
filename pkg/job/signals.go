package job

import (
	"os"
	"os/signal"
	"syscall"
)

// NotifyStop turns SIGINT and SIGTERM (or sigs, when given) into
// RequestStop so an in-flight download is never cut off. Every signal is
// forwarded on the returned channel after the stop request, letting the
// caller wind down the rest of the process. Call the returned func to stop
// listening.
func (c *Controller) NotifyStop(sigs ...os.Signal) (<-chan os.Signal, func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	in := make(chan os.Signal, 1)
	out := make(chan os.Signal, 1)
	quit := make(chan struct{})
	signal.Notify(in, sigs...)

	go func() {
		for {
			select {
			case sig := <-in:
				c.log.WithField("signal", sig.String()).Info("received signal")
				c.RequestStop()
				select {
				case out <- sig:
				default:
				}
			case <-quit:
				return
			}
		}
	}()

	return out, func() {
		signal.Stop(in)
		close(quit)
	}
}
