package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	cloudtransfer "github.com/mediaflow/blobxfer/internal/cloud/transfer"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/localfs"
)

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	var (
		recursive      bool
		includeHidden  bool
		key            string
		keyFile        string
		iv             string
		deriveIV       bool
		contentType    string
		deleteExisting bool
		chunkSizeMiB   int64
	)

	cmd := &cobra.Command{
		Use:   "upload <file|dir> [file|dir...] <destination>",
		Short: "Upload files as block blobs",
		Long: `Upload one or more files or directories.

A destination ending in "/" is a prefix: every file is stored under it by its
name, and files found in a directory keep their relative path. A single file
may be uploaded to a full blob URI instead.

Examples:
  # Upload a file to a SAS-authorized container
  blobxfer upload movie.mp4 "https://acct.blob.core.windows.net/media/?sv=..."

  # Upload a directory tree to S3, four files at a time
  blobxfer upload -r ./renders s3://bucket/renders/ --concurrent 4

  # Encrypt with a key from 'blobxfer keygen'
  blobxfer upload --key-file media.key movie.mp4 s3://bucket/movie.mp4`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := GetLogger()

			encKey, err := resolveKey(key, keyFile)
			if err != nil {
				return err
			}

			dest := args[len(args)-1]
			paths, err := expandGlobPatterns(args[:len(args)-1])
			if err != nil {
				return err
			}
			sources, err := localfs.CollectSources(paths, localfs.WalkOptions{
				IncludeHidden:  includeHidden,
				SkipHiddenDirs: !includeHidden,
				Recursive:      recursive,
			})
			if err != nil {
				return err
			}

			prefix := isPrefixURI(dest)
			if len(sources) > 1 && !prefix {
				return fmt.Errorf("destination %q must end with / to upload %d files", dest, len(sources))
			}

			reqs := make([]cloudtransfer.UploadRequest, 0, len(sources))
			sizes := make([]int64, 0, len(sources))
			for _, src := range sources {
				uri := dest
				if prefix {
					if uri, err = joinBlobURI(dest, src.RelPath); err != nil {
						return err
					}
				}
				fileIVBytes, err := fileIV(encKey, iv, deriveIV, src.RelPath)
				if err != nil {
					return err
				}
				reqs = append(reqs, cloudtransfer.UploadRequest{
					DestinationURI: uri,
					LocalPath:      src.Path,
					ContentType:    contentType,
					Encryption:     encKey,
					IV:             fileIVBytes,
					DeleteExisting: deleteExisting,
					ChunkSize:      chunkSizeMiB * constants.BlockGranularity,
				})
				sizes = append(sizes, src.Size)
			}

			logger.Debug().Int("files", len(reqs)).Int("threads", cfg.Transfer.Threads).
				Int("concurrent", cfg.Transfer.Concurrent).Bool("encrypted", encKey != nil).Msg("starting upload")

			s, err := newSession(cfg, len(reqs))
			if err != nil {
				return err
			}
			err = s.manager.UploadAll(GetContext(), reqs, sizes)
			s.close()
			s.summarize("Uploaded")

			if GetContext().Err() != nil {
				return errors.New("upload cancelled")
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "Include hidden files and directories")
	cmd.Flags().StringVar(&key, "key", "", "Base64 AES-256 key; encrypts the upload")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "File containing the base64 AES-256 key")
	cmd.Flags().StringVar(&iv, "iv", "", "Base64 IV (default: random per file)")
	cmd.Flags().BoolVar(&deriveIV, "derive-iv", false, "Derive each file's IV from the key and its blob name")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type stored with every blob")
	cmd.Flags().BoolVar(&deleteExisting, "delete-existing", false, "Delete an existing blob before uploading")
	cmd.Flags().Int64Var(&chunkSizeMiB, "chunk-size-mib", 0, "Block size in MiB (0 = smallest the store allows)")

	return cmd
}

