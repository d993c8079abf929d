package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/jimlawless/whereami"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/logger"
)

type Config struct {
	Db      *PGDBCfg
	Redis   *RedisCfg
	Kafka   *KafkaCfg
	Refresh *RefreshCfg
}

type PGDBCfg struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisCfg struct {
	Addr          string
	Password      string
	User          string
	DB            int
	MaxRetries    int
	DialTimeout   time.Duration
	Timeout       time.Duration
	VisibilityTTL time.Duration
}

type KafkaCfg struct {
	Topic             string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

type RefreshCfg struct {
	FullRefreshCron string        // cron-выражение полного пересчёта
	NotifyTimeout   time.Duration // таймаут ожидания NOTIFY, он же страховочный интервал
	BatchSize       int           // размер страницы продуктов за итерацию
	DomainIDs       []int64       // настроенные домены продаж магазина
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load(log logger.Logger) (*Config, error) {
	db, err := loadPGDBCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	refresh, err := loadRefreshCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Db:      db,
		Redis:   redis,
		Kafka:   kafka,
		Refresh: refresh,
	}, nil
}

func loadRefreshCfg(log logger.Logger) (*RefreshCfg, error) {
	const (
		defaultFullRefreshCron = "0 4 * * *"
		defaultNotifyTimeout   = 30 * time.Second
		defaultBatchSize       = 100
		defaultDomainIDs       = "1,2"
	)

	cron := getEnvOrDefault("FULL_REFRESH_CRON", defaultFullRefreshCron)
	if !gronx.New().IsValid(cron) {
		log.Errorf(e.ErrInvalidCronExpr, "invalid FULL_REFRESH_CRON: %s", cron)
		return nil, e.ErrInvalidCronExpr
	}

	notifyTimeout, err := parseDurationEnv("DIRTY_NOTIFY_TIMEOUT", defaultNotifyTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIRTY_NOTIFY_TIMEOUT")
		return nil, err
	}

	batchSize, err := parseIntEnv("REFRESH_BATCH_SIZE", defaultBatchSize)
	if err != nil {
		return nil, e.Wrap("REFRESH_BATCH_SIZE", err)
	}

	domainIDs, err := parseDomainIDs(getEnvOrDefault("DOMAIN_IDS", defaultDomainIDs))
	if err != nil {
		log.Errorf(err, "invalid DOMAIN_IDS")
		return nil, err
	}

	return &RefreshCfg{
		FullRefreshCron: cron,
		NotifyTimeout:   notifyTimeout,
		BatchSize:       batchSize,
		DomainIDs:       domainIDs,
	}, nil
}

// parseDomainIDs разбирает список доменов вида "1,2,3".
func parseDomainIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")

	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, e.Wrap(part, e.ErrIncorrectEnvVariable)
		}

		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, e.ErrNoDomainsConfigured
	}

	return ids, nil
}

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
	)

	brokerStr := os.Getenv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required")
	}
	brokers := strings.Split(brokerStr, ",")

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		return nil, fmt.Errorf("KAFKA_TOPIC environment variable is required")
	}

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	networkMode := getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode)

	return &KafkaCfg{
		Brokers:           brokers,
		Topic:             topic,
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       networkMode,
	}, nil
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost    = "localhost"
		defaultPort    = "5432"
		defaultSSLMode = "disable"
	)

	user := getEnv("POSTGRES_USER")
	if user == "" {
		err := fmt.Errorf("POSTGRES_USER is required")
		log.Errorf(err, "missing POSTGRES_USER")
		return nil, err
	}

	password := getEnv("POSTGRES_PASSWORD")
	if password == "" {
		err := fmt.Errorf("POSTGRES_PASSWORD is required")
		log.Errorf(err, "missing POSTGRES_PASSWORD")
		return nil, err
	}

	dbName := getEnv("POSTGRES_DB")
	if dbName == "" {
		err := fmt.Errorf("POSTGRES_DB is required")
		log.Errorf(err, "missing POSTGRES_DB")
		return nil, err
	}

	return &PGDBCfg{
		Host:     getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:     getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:     user,
		Password: password,
		DBName:   dbName,
		SSLMode:  getEnvOrDefault("SSL_MODE", defaultSSLMode),
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr          = "localhost:6379"
		defaultDB            = 0
		defaultMaxRetries    = 3
		defaultDialTimeout   = 5 * time.Second
		defaultReadTimeout   = 3 * time.Second
		defaultWriteTimeout  = 3 * time.Second
		defaultVisibilityTTL = 10 * time.Minute
	)

	addr := getEnvOrDefault("REDIS_ADDR", defaultAddr)
	password := getEnv("REDIS_PASSWORD")
	user := getEnv("REDIS_USER")

	dbStr := getEnvOrDefault("REDIS_DB_ID", strconv.Itoa(defaultDB))
	db, err := strconv.Atoi(dbStr)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetries, err := parseIntEnv("MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid WRITE_TIMEOUT")
		return nil, err
	}

	visibilityTTL, err := parseDurationEnv("VISIBILITY_TTL", defaultVisibilityTTL)
	if err != nil {
		log.Errorf(err, "invalid VISIBILITY_TTL")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:          addr,
		Password:      password,
		User:          user,
		DB:            db,
		MaxRetries:    maxRetries,
		DialTimeout:   dialTimeout,
		Timeout:       timeout,
		VisibilityTTL: visibilityTTL,
	}, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}
