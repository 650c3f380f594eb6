package mtproto

import (
	"mime"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gotd/td/tg"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/usecase/messages"
)

// mediaSpec описание скачиваемого вложения.
type mediaSpec struct {
	kind     string
	ext      string
	location tg.InputFileLocationClass
}

// toIncoming единственное место, где разбирается tg.Message. Дальше по
// конвейеру идёт только messages.Incoming.
func toIncoming(msg *tg.Message, ch domain.ChannelInfo, isEdit bool, store *mediaStore) messages.Incoming {
	in := messages.Incoming{
		ID:           int64(msg.ID),
		Channel:      ch.Username,
		ChannelTitle: ch.Title,
		Text:         msg.Message,
		Date:         time.Unix(int64(msg.Date), 0).UTC(),
		IsEdit:       isEdit,
	}
	if views, ok := msg.GetViews(); ok {
		in.Views = views
	}
	if forwards, ok := msg.GetForwards(); ok {
		in.Forwards = forwards
	}
	if grouped, ok := msg.GetGroupedID(); ok {
		in.GroupedID = grouped
	}

	media, ok := msg.GetMedia()
	if !ok {
		return in
	}
	switch m := media.(type) {
	case *tg.MessageMediaPoll:
		in.Content = messages.ContentPoll
		in.PollQuestion = m.Poll.Question.Text
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		in.Content = messages.ContentLocation
	case *tg.MessageMediaPhoto, *tg.MessageMediaDocument:
		in.Content = messages.ContentMedia
		if spec, ok := describeMedia(media); ok && store != nil {
			in.Attachment = store.attachment(spec, mediaFileName(ch.Username, in.ID, spec.ext))
		}
	}
	return in
}

// describeMedia определяет тип, расширение и адрес файла вложения.
func describeMedia(media tg.MessageMediaClass) (mediaSpec, bool) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok || len(photo.Sizes) == 0 {
			return mediaSpec{}, false
		}
		return mediaSpec{
			kind: "photo",
			ext:  ".jpg",
			location: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     largestSize(photo.Sizes),
			},
		}, true
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return mediaSpec{}, false
		}
		spec := mediaSpec{
			kind: "document",
			ext:  extensionByMime(doc.MimeType),
			location: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
		for _, attr := range doc.Attributes {
			switch attr.(type) {
			case *tg.DocumentAttributeAnimated:
				spec.kind, spec.ext = "gif", ".mp4"
			case *tg.DocumentAttributeVideo:
				if spec.kind != "gif" {
					spec.kind, spec.ext = "video", ".mp4"
				}
			}
		}
		return spec, true
	}
	return mediaSpec{}, false
}

// largestSize выбирает последний (самый крупный) размер фото.
func largestSize(sizes []tg.PhotoSizeClass) string {
	for i := len(sizes) - 1; i >= 0; i-- {
		switch s := sizes[i].(type) {
		case *tg.PhotoSize:
			return s.Type
		case *tg.PhotoSizeProgressive:
			return s.Type
		}
	}
	return "x"
}

var knownExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"application/pdf": ".pdf",
}

func extensionByMime(mimeType string) string {
	if mimeType == "" {
		return ".bin"
	}
	if ext, ok := knownExtensions[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// mediaFileName имя файла вложения: {канал}_{id}{ext}.
func mediaFileName(channel string, id int64, ext string) string {
	return filepath.Base(channel) + "_" + strconv.FormatInt(id, 10) + ext
}
