// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.etcd.io/etcd/server/v3/embed"
)

const readyTimeout = 60 * time.Second

// EmbedConfig configures a single-node in-process etcd server.
type EmbedConfig struct {
	Name       string
	DataDir    string
	ClientAddr string
	PeerAddr   string
}

func startEmbedded(cfg EmbedConfig, logger *slog.Logger) (*embed.Etcd, error) {
	eCfg := embed.NewConfig()
	if cfg.Name != "" {
		eCfg.Name = cfg.Name
	}
	eCfg.Dir = cfg.DataDir

	peerURL, err := url.Parse("http://" + cfg.PeerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid peer address: %w", err)
	}
	eCfg.ListenPeerUrls = []url.URL{*peerURL}
	eCfg.AdvertisePeerUrls = []url.URL{*peerURL}

	clientURL, err := url.Parse("http://" + cfg.ClientAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid client address: %w", err)
	}
	eCfg.ListenClientUrls = []url.URL{*clientURL}
	eCfg.AdvertiseClientUrls = []url.URL{*clientURL}

	eCfg.InitialCluster = eCfg.InitialClusterFromName(eCfg.Name)
	eCfg.ClusterState = embed.ClusterStateFlagNew

	eCfg.Logger = "zap"
	eCfg.LogLevel = "error"

	e, err := embed.StartEtcd(eCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start etcd: %w", err)
	}

	select {
	case <-e.Server.ReadyNotify():
		logger.Info("Embedded etcd is ready",
			slog.String("name", eCfg.Name),
			slog.String("client_addr", cfg.ClientAddr))
	case <-time.After(readyTimeout):
		e.Server.Stop()
		e.Close()
		return nil, fmt.Errorf("etcd server took too long to start")
	}

	return e, nil
}
