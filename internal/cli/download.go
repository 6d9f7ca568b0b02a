package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cloudtransfer "github.com/mediaflow/blobxfer/internal/cloud/transfer"
	"github.com/mediaflow/blobxfer/internal/constants"
)

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	var (
		output       string
		key          string
		keyFile      string
		iv           string
		deriveIV     bool
		chunkSizeMiB int64
	)

	cmd := &cobra.Command{
		Use:   "download <uri> [uri...]",
		Short: "Download blobs to local files",
		Long: `Download one or more blobs.

Blobs are saved in the --output directory under their base name. With a single
blob, --output may instead name the target file. An interrupted download is
resumed from its completed blocks when the blob has not changed.

Examples:
  # Download into the current directory
  blobxfer download "https://acct.blob.core.windows.net/media/movie.mp4?sv=..."

  # Download several objects into ./out, two at a time
  blobxfer download s3://bucket/a.bin s3://bucket/b.bin -o out --concurrent 2

  # Decrypt while downloading
  blobxfer download --key-file media.key s3://bucket/movie.mp4 -o movie.mp4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			encKey, err := resolveKey(key, keyFile)
			if err != nil {
				return err
			}

			targets, err := downloadTargets(args, output)
			if err != nil {
				return err
			}

			reqs := make([]cloudtransfer.DownloadRequest, 0, len(args))
			for i, uri := range args {
				name, _ := blobName(uri)
				fileIVBytes, err := fileIV(encKey, iv, deriveIV, name)
				if err != nil {
					return err
				}
				reqs = append(reqs, cloudtransfer.DownloadRequest{
					SourceURI:  uri,
					LocalPath:  targets[i],
					Encryption: encKey,
					IV:         fileIVBytes,
					ChunkSize:  chunkSizeMiB * constants.BlockGranularity,
				})
			}

			s, err := newSession(cfg, len(reqs))
			if err != nil {
				return err
			}
			err = s.manager.DownloadAll(GetContext(), reqs)
			s.close()
			s.summarize("Downloaded")

			if GetContext().Err() != nil {
				return errors.New("download cancelled; run the same command again to resume")
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".", "Output directory, or the target file for a single blob")
	cmd.Flags().StringVar(&key, "key", "", "Base64 AES-256 key of encrypted blobs")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "File containing the base64 AES-256 key")
	cmd.Flags().StringVar(&iv, "iv", "", "Base64 IV (default: read from blob metadata)")
	cmd.Flags().BoolVar(&deriveIV, "derive-iv", false, "Derive each blob's IV from the key and its name")
	cmd.Flags().Int64Var(&chunkSizeMiB, "chunk-size-mib", 0, "Block size in MiB (0 = smallest the store allows)")

	return cmd
}

// downloadTargets maps every source URI to a local path. Two blobs with the
// same base name cannot share an output directory.
func downloadTargets(uris []string, output string) ([]string, error) {
	if len(uris) == 1 && !isDirTarget(output) {
		return []string{output}, nil
	}

	targets := make([]string, 0, len(uris))
	seen := make(map[string]string)
	for _, uri := range uris {
		name, err := blobName(uri)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%s and %s would both be saved as %s", prev, uri, name)
		}
		seen[name] = uri
		targets = append(targets, filepath.Join(output, filepath.FromSlash(name)))
	}
	return targets, nil
}

// isDirTarget reports whether output names a directory: an existing one, or
// any path ending in a separator.
func isDirTarget(output string) bool {
	if strings.HasSuffix(output, "/") || strings.HasSuffix(output, string(filepath.Separator)) {
		return true
	}
	info, err := os.Stat(output)
	return err == nil && info.IsDir()
}
