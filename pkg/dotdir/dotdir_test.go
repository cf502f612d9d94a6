package dotdir_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/dotdir"
)

var _ = Describe("Manager", func() {
	var mgr *dotdir.Manager

	BeforeEach(func() {
		mgr = dotdir.NewManager()
	})

	Describe("Target", func() {
		It("prefers the override directory", func() {
			override := filepath.Join(GinkgoT().TempDir(), "state")

			got, err := mgr.Target(override)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(override))
		})

		It("creates the directory if it does not exist", func() {
			override := filepath.Join(GinkgoT().TempDir(), "a", "b")

			got, err := mgr.Target(override)
			Expect(err).NotTo(HaveOccurred())

			info, err := os.Stat(got)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("returns an absolute path", func() {
			got, err := mgr.Target(GinkgoT().TempDir())
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.IsAbs(got)).To(BeTrue())
		})
	})

	Describe("ProjectState", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("returns nil for an uninitialized project", func() {
			state, err := mgr.LoadProjectState(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("round-trips a saved state", func() {
			saved := &dotdir.ProjectState{
				ProjectID: "proj-1",
				Name:      "payments",
				Root:      "/work/payments",
				CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
			}
			Expect(mgr.SaveProjectState(saved, dir)).To(Succeed())

			loaded, err := mgr.LoadProjectState(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ProjectID).To(Equal("proj-1"))
			Expect(loaded.Name).To(Equal("payments"))
			Expect(loaded.Root).To(Equal("/work/payments"))
			Expect(loaded.CreatedAt.Equal(saved.CreatedAt)).To(BeTrue())
		})

		It("rejects a nil state", func() {
			Expect(mgr.SaveProjectState(nil, dir)).To(HaveOccurred())
		})

		It("clears saved state", func() {
			saved := &dotdir.ProjectState{ProjectID: "proj-1", Root: "/work/payments"}
			Expect(mgr.SaveProjectState(saved, dir)).To(Succeed())
			Expect(mgr.ClearProjectState(dir)).To(Succeed())

			state, err := mgr.LoadProjectState(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("treats clearing an uninitialized project as a no-op", func() {
			Expect(mgr.ClearProjectState(dir)).To(Succeed())
		})

		It("errors on a corrupt state file", func() {
			path := filepath.Join(dir, "project.json")
			Expect(os.WriteFile(path, []byte("{not json"), 0o644)).To(Succeed())

			_, err := mgr.LoadProjectState(dir)
			Expect(err).To(HaveOccurred())
		})
	})
})
