package files

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"novelarr/internal/domain"
	"novelarr/internal/sanitize"

	"github.com/go-pdf/fpdf"
)

func IsValidLocation(location string) error {
	if _, err := os.Stat(location); err != nil {
		return err
	}

	return nil
}

// WriteChapter writes one chapter as a UTF-8 text file. Inline images
// are written next to it under an images/ subdirectory and referenced
// from the text by filename, so the chapter stays readable offline.
func WriteChapter(dir, name string, content []domain.ContentInfo, imgs map[string][]byte) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}

	var (
		sb       strings.Builder
		imgCount int
	)

	for _, info := range content {
		switch info.Kind {
		case domain.ContentImage:
			imgCount++
			imgName := fmt.Sprintf("%s_%03d.jpg", sanitize.Filename(name), imgCount)

			data, ok := imgs[info.Value]
			if !ok {
				// the image failed to download, keep the raw reference so
				// nothing is silently dropped
				sb.WriteString(info.Value + "\n")
				continue
			}

			if err := writeImage(filepath.Join(dir, "images", imgName), data); err != nil {
				return err
			}
			sb.WriteString("[images/" + imgName + "]\n")
		default:
			sb.WriteString(info.Value + "\n")
		}
	}

	chapterPath := filepath.Join(dir, sanitize.Filename(name)+".txt")

	return os.WriteFile(chapterPath, []byte(sb.String()), 0o644)
}

func writeImage(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// CreateArchive creates a zip archive named zipPath and adds all files from sourceDir to it
func CreateArchive(sourceDir, zipPath string) error {
	err := os.MkdirAll(filepath.Dir(zipPath), os.ModePerm)
	if err != nil {
		return err
	}

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	writeBuf := bufio.NewWriter(zipFile)
	defer writeBuf.Flush()

	zipWriter := zip.NewWriter(writeBuf)
	defer zipWriter.Close()

	return filepath.Walk(sourceDir, func(filePath string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		relPath, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return err
		}

		return addFileToZip(zipWriter, filePath, filepath.ToSlash(relPath))
	})
}

// CreateIllustrationPDF creates a pdf file named pdfPath and adds all chapter images from sourceDir to it
func CreateIllustrationPDF(sourceDir, pdfPath string) error {
	err := os.MkdirAll(filepath.Dir(pdfPath), os.ModePerm)
	if err != nil {
		return err
	}

	pdf := fpdf.New(fpdf.OrientationPortrait, fpdf.UnitMillimeter, "", "")

	walkErr := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".jpg") {
			pdfInfo := pdf.RegisterImageOptions(path, fpdf.ImageOptions{})
			imgWidth, imgHeight := pdfInfo.Extent()

			pdf.AddPageFormat(fpdf.OrientationPortrait, fpdf.SizeType{Wd: imgWidth, Ht: imgHeight})

			pdf.ImageOptions(path, 0, 0, imgWidth, imgHeight, false, fpdf.ImageOptions{}, 0, "")
		}

		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if pdf.PageCount() == 0 {
		return nil
	}

	return pdf.OutputFileAndClose(pdfPath)
}

// addFileToZip adds a single file to the zip archive
func addFileToZip(zipWriter *zip.Writer, filePath, fileName string) error {
	fileToZip, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer fileToZip.Close()

	writer, err := zipWriter.Create(fileName)
	if err != nil {
		return err
	}

	readerBuf := bufio.NewReader(fileToZip)

	_, err = io.Copy(writer, readerBuf)
	return err
}
