package publish

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/edvin/raftisctl/internal/config"
)

// FromConfig builds the publishers cfg enables: etcd when ETCD_ENDPOINTS is
// set, S3 when S3_BUCKET is set. It returns a nil Publisher when neither is
// configured. The returned close function releases the etcd connection.
func FromConfig(cfg *config.Config, logger zerolog.Logger) (Publisher, func() error, error) {
	etcd, s3, closeFn, err := fromConfig(cfg, logger)
	if err != nil {
		return nil, closeFn, err
	}

	var pubs Multi
	if etcd != nil {
		pubs = append(pubs, etcd)
	}
	if s3 != nil {
		pubs = append(pubs, s3)
	}
	switch len(pubs) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return pubs[0], closeFn, nil
	}
	return pubs, closeFn, nil
}

// FetcherFromConfig returns the store a published topology is read back
// from. etcd wins when both are configured.
func FetcherFromConfig(cfg *config.Config, logger zerolog.Logger) (Fetcher, func() error, error) {
	etcd, s3, closeFn, err := fromConfig(cfg, logger)
	switch {
	case err != nil:
		return nil, closeFn, err
	case etcd != nil:
		return etcd, closeFn, nil
	case s3 != nil:
		return s3, closeFn, nil
	}
	return nil, closeFn, fmt.Errorf("no topology store configured: set ETCD_ENDPOINTS or S3_BUCKET")
}

func fromConfig(cfg *config.Config, logger zerolog.Logger) (*Etcd, *S3, func() error, error) {
	var (
		etcd *Etcd
		s3   *S3
	)
	closeFn := func() error { return nil }

	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, nil, closeFn, err
		}
		closeFn = cli.Close
		etcd = NewEtcd(cli, cfg.EtcdPrefix, logger)
	}
	if cfg.S3Bucket != "" {
		s3 = NewS3(S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, logger)
	}
	return etcd, s3, closeFn, nil
}
