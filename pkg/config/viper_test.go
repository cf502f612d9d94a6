package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/keel/pkg/config"
)

var _ = Describe("InitViper", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("serves defaults when nothing else is set", func() {
		v, err := config.InitViper(dir)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.ConfigFromViper(v)
		Expect(cfg.Storage.Driver).To(Equal("sqlite"))
		Expect(cfg.Composer.TokenBudget).To(Equal(uint(4000)))
		Expect(cfg.Retry.SimilarityThreshold).To(Equal(0.6))
	})

	It("reads values from config.toml in the target dir", func() {
		path := filepath.Join(dir, "config.toml")
		Expect(os.WriteFile(path, []byte("[extractor]\nprovider = \"openai\"\n"), 0o600)).To(Succeed())

		v, err := config.InitViper(dir)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.ConfigFromViper(v)
		Expect(cfg.Extractor.Provider).To(Equal("openai"))
		Expect(cfg.Storage.Driver).To(Equal("sqlite"), "unset fields fall back to defaults")
	})

	It("lets environment variables override the file", func() {
		path := filepath.Join(dir, "config.toml")
		Expect(os.WriteFile(path, []byte("[storage]\ndriver = \"file\"\n"), 0o600)).To(Succeed())
		GinkgoT().Setenv("KEEL_STORAGE_DRIVER", "memory")

		v, err := config.InitViper(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(config.ConfigFromViper(v).Storage.Driver).To(Equal("memory"))
	})
})

var _ = Describe("flag registry", func() {
	newCmd := func() (*cobra.Command, *string, *uint) {
		cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
		fs := config.DefaultFlagSet()

		var provider string
		var debounce uint
		config.AddStringFlag(cmd, fs, config.FlagProvider, &provider)
		config.AddUintFlag(cmd, fs, config.FlagDebounceMs, &debounce)
		return cmd, &provider, &debounce
	}

	It("registers flags with defaults from the config defaults", func() {
		cmd, _, _ := newCmd()

		f := cmd.Flags().Lookup("provider")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal("nop"))
		Expect(f.Shorthand).To(Equal("p"))

		d := cmd.Flags().Lookup("debounce-ms")
		Expect(d).NotTo(BeNil())
		Expect(d.DefValue).To(Equal("500"))
	})

	It("binds changed flags ahead of file values", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.toml")
		Expect(os.WriteFile(path, []byte("[extractor]\nprovider = \"openai\"\n"), 0o600)).To(Succeed())

		cmd, _, _ := newCmd()
		Expect(cmd.Flags().Set("provider", "anthropic")).To(Succeed())

		v, err := config.InitViper(dir)
		Expect(err).NotTo(HaveOccurred())
		config.BindRegisteredFlags(v, cmd, config.DefaultFlagSet(), []string{config.FlagProvider, config.FlagDebounceMs})

		cfg := config.ConfigFromViper(v)
		Expect(cfg.Extractor.Provider).To(Equal("anthropic"))
		Expect(cfg.Watch.DebounceMs).To(Equal(uint(500)), "unchanged flags defer to lower layers")
	})
})
