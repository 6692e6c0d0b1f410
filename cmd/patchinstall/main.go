package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/patchkit-go/patchkit/build"
	"github.com/patchkit-go/patchkit/index"
	"github.com/patchkit-go/patchkit/modules/patcher"
)

// Exit codes, inspired by sysexits.h.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

var (
	// Flags.
	manifestPath      string
	rootPath          string
	persistDir        string
	verifyConcurrency int
	installConcurrency int
	splitBy           int
	sid               string
)

// die prints its arguments to stderr, then exits with the default error
// code.
func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(exitCodeGeneral)
}

func loadPatcher() (*patcher.Patcher, *manifest, error) {
	m, err := loadManifest(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	ix, err := m.build()
	if err != nil {
		return nil, nil, err
	}
	p, err := patcher.New(ix, rootPath, persistDir, callbacks())
	if err != nil {
		return nil, nil, err
	}
	return p, m, nil
}

// callbacks wires progress bars and colored status lines into the
// Verifier and Scheduler's event hooks.
func callbacks() patcher.Callbacks {
	var verifyBar, installBar *progressbar.ProgressBar
	return patcher.Callbacks{
		OnVerifyProgress: func(targetIndex int, bytesDone, bytesTotal int64) {
			if verifyBar == nil {
				verifyBar = progressbar.DefaultBytes(bytesTotal, "verifying")
			}
			verifyBar.Set64(bytesDone)
		},
		OnInstallProgress: func(sourceIndex int, bytesDone, bytesTotal int64) {
			if installBar == nil {
				installBar = progressbar.DefaultBytes(bytesTotal, "installing")
			}
			installBar.Set64(bytesDone)
		},
		OnCorruptionFound: func(part index.Part, result index.VerifyResult) {
			color.Yellow("part %d of target %d: %s", part.PartIndex(), part.TargetIndex(), result)
		},
	}
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify target files against the patch manifest",
	Run: func(cmd *cobra.Command, args []string) {
		p, _, err := loadPatcher()
		if err != nil {
			die("could not load patcher:", err)
		}
		defer p.Close()

		if err := p.AttachAllForRead(); err != nil {
			die("could not attach targets for read:", err)
		}
		if err := p.VerifyFiles(verifyConcurrency, nil); err != nil {
			die("verification failed:", err)
		}
		if p.Ledger().IsEmpty() {
			color.Green("all targets verified clean")
		} else {
			color.Yellow("targets have missing or corrupt parts; run install to repair")
		}
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Verify and then install missing or corrupt parts",
	Run: func(cmd *cobra.Command, args []string) {
		p, m, err := loadPatcher()
		if err != nil {
			die("could not load patcher:", err)
		}
		defer p.Close()

		if err := p.AttachAllForRead(); err != nil {
			die("could not attach targets for read:", err)
		}
		if err := p.VerifyFiles(verifyConcurrency, nil); err != nil {
			die("verification failed:", err)
		}
		if err := p.AttachMissingForWrite(); err != nil {
			die("could not attach targets for write:", err)
		}

		urls := m.sourceURLs()
		for sourceIndex, url := range urls {
			if url == "" {
				continue
			}
			p.QueueHTTPInstall(sourceIndex, url, sid, nil, splitBy)
		}

		if err := p.Install(installConcurrency, nil); err != nil {
			die("install failed:", err)
		}
		if err := p.WriteVersionFiles(); err != nil {
			die("could not write version files:", err)
		}
		color.Green("install complete")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the patchinstall version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("patchinstall v" + build.Version)
	},
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "Repair or construct target files from a patch index",
	}

	root.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "manifest.json", "path to the patch manifest")
	root.PersistentFlags().StringVarP(&rootPath, "root", "r", ".", "local install root containing the target files")
	root.PersistentFlags().StringVarP(&persistDir, "persist-dir", "p", ".patchinstall", "directory for the patcher's own log file")
	root.PersistentFlags().IntVarP(&verifyConcurrency, "verify-concurrency", "", patcher.DefaultVerifyConcurrency, "number of targets verified in parallel")
	root.PersistentFlags().IntVarP(&installConcurrency, "install-concurrency", "", patcher.DefaultSplitBy, "number of install tasks run in parallel")
	root.PersistentFlags().IntVarP(&splitBy, "split-by", "", patcher.DefaultSplitBy, "number of install tasks to split each source patch into")
	root.PersistentFlags().StringVarP(&sid, "sid", "", "", "optional X-Patch-Unique-Id session identifier sent with every request")

	root.AddCommand(verifyCmd, installCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeUsage)
	}
}
