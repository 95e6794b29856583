package diskstore

import (
	"bufio"
	"fmt"
	"os"
)

// WriteArtifact serializes lists and centroids into indexPath and
// ivfdataPath, writing through temporary files and renaming into place
// so a crash mid-write never leaves a partial artifact at the final
// path. ivfdataRelPath is the reference recorded in the index header,
// relative to the index file's own directory, so a shard directory can
// be moved as a unit.
func WriteArtifact(indexPath, ivfdataPath, ivfdataRelPath string, dimension, codeSize int, lists [][]Record, centroids []float32) error {
	if len(lists) == 0 {
		return fmt.Errorf("diskstore: cannot write an artifact with zero lists")
	}

	dataTmp := ivfdataPath + ".tmp"
	dataFile, err := os.Create(dataTmp)
	if err != nil {
		return fmt.Errorf("diskstore: create %s: %w", dataTmp, err)
	}
	bw := bufio.NewWriter(dataFile)

	meta := make([]ListMeta, len(lists))
	var offset int64
	recSize := RecordSize(codeSize)
	for i, list := range lists {
		meta[i] = ListMeta{Offset: offset, Length: int64(len(list))}
		for _, rec := range list {
			buf := EncodeRecord(make([]byte, 0, recSize), rec.ID, rec.Code)
			if _, err := bw.Write(buf); err != nil {
				dataFile.Close()
				return fmt.Errorf("diskstore: write record: %w", err)
			}
		}
		offset += int64(len(list)) * recSize
	}
	if err := bw.Flush(); err != nil {
		dataFile.Close()
		return fmt.Errorf("diskstore: flush %s: %w", dataTmp, err)
	}
	if err := dataFile.Close(); err != nil {
		return fmt.Errorf("diskstore: close %s: %w", dataTmp, err)
	}

	var ntotal int64
	for _, l := range meta {
		ntotal += l.Length
	}

	indexTmp := indexPath + ".tmp"
	indexFile, err := os.Create(indexTmp)
	if err != nil {
		os.Remove(dataTmp)
		return fmt.Errorf("diskstore: create %s: %w", indexTmp, err)
	}
	h := Header{
		Dimension:  dimension,
		Nlist:      len(lists),
		CodeSize:   codeSize,
		IsTrained:  true,
		Ntotal:     ntotal,
		IvfdataRef: ivfdataRelPath,
	}
	if err := WriteIndex(indexFile, h, meta, centroids); err != nil {
		indexFile.Close()
		os.Remove(indexTmp)
		os.Remove(dataTmp)
		return err
	}
	if err := indexFile.Close(); err != nil {
		os.Remove(indexTmp)
		os.Remove(dataTmp)
		return fmt.Errorf("diskstore: close %s: %w", indexTmp, err)
	}

	if err := os.Rename(dataTmp, ivfdataPath); err != nil {
		os.Remove(indexTmp)
		os.Remove(dataTmp)
		return fmt.Errorf("diskstore: rename %s: %w", dataTmp, err)
	}
	if err := os.Rename(indexTmp, indexPath); err != nil {
		return fmt.Errorf("diskstore: rename %s: %w", indexTmp, err)
	}

	return nil
}
