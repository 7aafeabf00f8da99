// Package backup writes and restores full backups of a nestkv database.
//
// # Overview
//
// A backup is a copy of every page of the data file taken right after a
// checkpoint, so it is complete without the WAL. The file starts with a
// 64-byte header followed by the pages, optionally as a zstd stream:
//
//	+--------+----------------------------------------+
//	| header | pages 0..TotalPages-1 (raw or zstd)    |
//	+--------+----------------------------------------+
//
// The header carries the page count, the checkpoint LSN and an xxhash
// checksum of the uncompressed pages.
//
// # Creating Backups
//
//	stats, err := backup.Create(ctx, db, backup.Options{
//	    OutputPath: "/backup/nestkv-20260218.nkvb",
//	    Compress:   true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Backed up %d pages in %v\n", stats.Pages, stats.Duration)
//
// Writers and readers of db wait while the pages are copied.
//
// # Restoring Backups
//
//	stats, err := backup.Restore(backup.RestoreOptions{
//	    InputPath: "/backup/nestkv-20260218.nkvb",
//	    DataDir:   "/var/lib/nestkv",
//	})
//
// Restore refuses to overwrite an existing database unless Force is set.
// The pages are written to a temporary file and checked against the header
// checksum before they replace the data file.
//
// Verify checks a backup file without restoring it and Inspect reads only
// its header.
package backup
