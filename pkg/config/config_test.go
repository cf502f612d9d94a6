package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/config"
)

var _ = Describe("Configer", func() {
	var (
		dir   string
		cfger *config.Configer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()

		var err error
		cfger, err = config.NewConfiger(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns defaults when no config file exists", func() {
		cfg, err := cfger.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Driver).To(Equal("sqlite"))
		Expect(cfg.Extractor.Provider).To(Equal("nop"))
		Expect(cfg.Composer.TokenBudget).To(Equal(uint(4000)))
	})

	It("round-trips a saved config", func() {
		cfg := config.NewDefaultConfig()
		cfg.Extractor.Provider = "anthropic"
		cfg.Watch.DebounceMs = 250
		Expect(cfger.SaveConfig(cfg)).To(Succeed())

		loaded, err := cfger.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Extractor.Provider).To(Equal("anthropic"))
		Expect(loaded.Watch.DebounceMs).To(Equal(uint(250)))
	})

	It("fills zero-value fields from defaults on load", func() {
		path := filepath.Join(dir, "config.toml")
		Expect(os.WriteFile(path, []byte("[extractor]\nprovider = \"openai\"\n"), 0o600)).To(Succeed())

		loaded, err := cfger.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Extractor.Provider).To(Equal("openai"))
		Expect(loaded.Storage.Driver).To(Equal("sqlite"))
		Expect(loaded.Classifier.QuietAttempts).To(Equal(uint(3)))
	})

	It("sets and gets values by dotted key", func() {
		Expect(cfger.SetConfigValue("extractor.model", "gpt-4o-mini")).To(Succeed())
		Expect(cfger.SetConfigValue("classifier.quiet_attempts", "5")).To(Succeed())

		model, err := cfger.GetConfigValue("extractor.model")
		Expect(err).NotTo(HaveOccurred())
		Expect(model).To(Equal("gpt-4o-mini"))

		quiet, err := cfger.GetConfigValue("classifier.quiet_attempts")
		Expect(err).NotTo(HaveOccurred())
		Expect(quiet).To(Equal("5"))
	})

	It("rejects unknown keys", func() {
		Expect(cfger.SetConfigValue("extractor.api_key", "sk-nope")).To(HaveOccurred())
		_, err := cfger.GetConfigValue("extractor.api_key")
		Expect(err).To(HaveOccurred())
	})

	It("rejects non-numeric values for numeric keys", func() {
		Expect(cfger.SetConfigValue("watch.debounce_ms", "soon")).To(HaveOccurred())
	})

	It("validates keys without touching disk", func() {
		Expect(config.IsValidConfigKey("storage.driver")).To(BeTrue())
		Expect(config.IsValidConfigKey("storage.api_key")).To(BeFalse())
		Expect(config.ValidConfigKeys()).To(ContainElements("storage.driver", "watch.debounce_ms"))
	})
})

var _ = Describe("ParseConfigTOML", func() {
	It("rejects unsupported versions", func() {
		_, err := config.ParseConfigTOML([]byte("version = 7\n"))
		Expect(err).To(MatchError(ContainSubstring("unsupported config version")))
	})

	It("accepts the current version", func() {
		cfg, err := config.ParseConfigTOML([]byte("version = 0\n[storage]\ndriver = \"file\"\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Driver).To(Equal("file"))
	})
})

var _ = Describe("PresetConfig", func() {
	It("builds each named preset", func() {
		for _, name := range config.ValidPresetNames() {
			cfg, err := config.PresetConfig(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Extractor.Provider).NotTo(BeEmpty())
		}
	})

	It("selects the provider and model for anthropic", func() {
		cfg, err := config.PresetConfig("anthropic")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Extractor.Provider).To(Equal("anthropic"))
		Expect(cfg.Extractor.Model).NotTo(BeEmpty())
	})

	It("keeps offline fully local", func() {
		cfg, err := config.PresetConfig("offline")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Extractor.Provider).To(Equal("nop"))
		Expect(cfg.Extractor.Model).To(BeEmpty())
	})

	It("rejects unknown presets", func() {
		_, err := config.PresetConfig("mystery")
		Expect(err).To(HaveOccurred())
	})
})
