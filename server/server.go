package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"
)

// Serve runs h on addr until ctx is done, then shuts down gracefully. TLS is
// used when both certFile and keyFile exist.
func Serve(ctx context.Context, addr string, h http.Handler, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	useHTTPS := certFile != "" && keyFile != "" && fileExists(certFile) && fileExists(keyFile)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if useHTTPS {
			log.Printf("🔒 Server starting with HTTPS on https://%s", addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("⚠️  Server starting with HTTP on http://%s", addr)
			log.Printf("   (No TLS certificates found at %q / %q)", certFile, keyFile)
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// fileExists reports whether filename is an existing regular file.
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
