// Package main is the reference chat server entrypoint.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chatsync/internal/config"
	"chatsync/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "chatd",
	Short: "Reference chat server for the chatsync client.",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("chat server failed")
	}
}

func run(*cobra.Command, []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	hub := server.NewHub(server.WithLogger(logrus.StandardLogger()))
	srv := server.New(cfg.ListenAddr, hub, server.WithServerLogger(logrus.StandardLogger()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logrus.Info("shutting down")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
