package main

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
)

func setenv(key, value string) {
	prev, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(func() {
		if had {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func chdir(dir string) {
	prev, err := os.Getwd()
	Expect(err).NotTo(HaveOccurred())
	Expect(os.Chdir(dir)).To(Succeed())
	DeferCleanup(os.Chdir, prev)
}

var _ = Describe("Config", func() {
	BeforeEach(func() {
		viper.Reset()
		DeferCleanup(viper.Reset)
	})

	setDefaults := func() {
		viper.Set("serve.store.backend", "sqlite")
		viper.Set("serve.store.sqlite_path", "data/tempglobe.db")
		viper.Set("serve.http.port", 3000)
		viper.Set("serve.grpc.port", 9090)
		viper.Set("serve.window", 24*time.Hour)
		viper.Set("serve.write_timeout", 5*time.Second)
	}

	Describe("InitConfig", func() {
		It("should read a config file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte("serve:\n  grpc:\n    port: 7070\nlog:\n  level: debug\n"), 0o600)).To(Succeed())

			Expect(InitConfig(path)).To(Succeed())
			Expect(viper.GetInt("serve.grpc.port")).To(Equal(7070))
			Expect(viper.GetString("log.level")).To(Equal("debug"))
		})

		It("should fail on an unreadable config file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte("serve: [unterminated"), 0o600)).To(Succeed())

			Expect(InitConfig(path)).To(MatchError(ContainSubstring("failed to read config file")))
		})

		It("should read prefixed environment variables", func() {
			setenv("TEMPGLOBE_SERVE_STORE_BACKEND", "postgres")
			chdir(GinkgoT().TempDir())

			Expect(InitConfig("")).To(Succeed())
			Expect(viper.GetString("serve.store.backend")).To(Equal("postgres"))
		})

		It("should take the HTTP port from PORT", func() {
			setenv("PORT", "8123")
			chdir(GinkgoT().TempDir())

			Expect(InitConfig("")).To(Succeed())
			Expect(viper.GetInt("serve.http.port")).To(Equal(8123))
		})

		It("should prefer the prefixed HTTP port over PORT", func() {
			setenv("PORT", "8123")
			setenv("TEMPGLOBE_SERVE_HTTP_PORT", "8124")
			chdir(GinkgoT().TempDir())

			Expect(InitConfig("")).To(Succeed())
			Expect(viper.GetInt("serve.http.port")).To(Equal(8124))
		})

		It("should load a .env file", func() {
			dir := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(dir, ".env"), []byte("TEMPGLOBE_SERVE_HTTP_TITLE=from dotenv\n"), 0o600)).To(Succeed())
			chdir(dir)
			DeferCleanup(os.Unsetenv, "TEMPGLOBE_SERVE_HTTP_TITLE")

			Expect(InitConfig("")).To(Succeed())
			Expect(viper.GetString("serve.http.title")).To(Equal("from dotenv"))
		})
	})

	Describe("loadServeConfig", func() {
		It("should accept the defaults", func() {
			setDefaults()
			cfg, err := loadServeConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.StoreBackend).To(Equal("sqlite"))
			Expect(cfg.Window).To(Equal(24 * time.Hour))
		})

		It("should normalise the backend name", func() {
			setDefaults()
			viper.Set("serve.store.backend", "Memory")
			cfg, err := loadServeConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.StoreBackend).To(Equal("memory"))
		})

		It("should build the Postgres DSN from its parts", func() {
			setDefaults()
			viper.Set("serve.store.backend", "postgres")
			viper.Set("serve.store.postgres.host", "db.internal")
			viper.Set("serve.store.postgres.port", 5433)
			viper.Set("serve.store.postgres.user", "temps")
			viper.Set("serve.store.postgres.password", "secret")
			viper.Set("serve.store.postgres.name", "tempglobe")
			viper.Set("serve.store.postgres.sslmode", "require")

			cfg, err := loadServeConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.PostgresDSN).To(Equal("host=db.internal port=5433 user=temps password=secret dbname=tempglobe sslmode=require"))
		})

		It("should prefer an explicit Postgres DSN over its parts", func() {
			setDefaults()
			viper.Set("serve.store.backend", "postgres")
			viper.Set("serve.store.postgres_dsn", "postgres://u:p@h/db")
			viper.Set("serve.store.postgres.host", "ignored")

			cfg, err := loadServeConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.PostgresDSN).To(Equal("postgres://u:p@h/db"))
		})

		DescribeTable("should reject invalid settings",
			func(key string, value any, field string) {
				setDefaults()
				viper.Set(key, value)
				_, err := loadServeConfig()
				Expect(err).To(MatchError(ContainSubstring(field)))
			},
			Entry("unknown backend", "serve.store.backend", "mysql", "StoreBackend"),
			Entry("postgres without DSN", "serve.store.backend", "postgres", "PostgresDSN"),
			Entry("sqlite without path", "serve.store.sqlite_path", "", "SQLitePath"),
			Entry("port out of range", "serve.http.port", 70000, "HTTPPort"),
			Entry("same ports", "serve.grpc.port", 3000, "GRPCPort"),
			Entry("zero window", "serve.window", time.Duration(0), "Window"),
			Entry("bad origin", "serve.http.allowed_origins", []string{"not a url"}, "AllowedOrigins"),
			Entry("feed without queue", "serve.rabbitmq.url", "amqp://localhost:5672/", "QueueName"),
		)
	})
})
