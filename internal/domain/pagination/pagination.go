// Пакет pagination — разбор параметров страницы и расчёт окна выборки
// для списков файлов. Выход за границы не является ошибкой: номер
// страницы прижимается к ближайшей допустимой.
package pagination

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// PageRequest — нормализованный запрос страницы.
type PageRequest struct {
	// Page — номер страницы, начиная с 1 (ещё не прижат к NumPages)
	Page int
	// PageSize — размер страницы, 1..maxPageSize
	PageSize int
}

// Window — рассчитанное окно выборки.
type Window struct {
	// Count — общее число подходящих записей
	Count int
	// NumPages — число страниц, не меньше 1
	NumPages int
	// Page — фактический номер страницы после прижатия
	Page int
	// PageRange — номера страниц 1..NumPages
	PageRange []int
	// Offset и Limit — параметры для SQL
	Offset int
	Limit  int
}

// ParsePageRequest разбирает сырые значения page и page_size из query-строки.
// Нечисловой page превращается в 1, целый page вне диапазона int — в
// math.MaxInt (или 1 для отрицательного), чтобы Paginate прижал его к краю.
// Нечисловой или неположительный page_size заменяется на defaultPageSize,
// page_size сверху ограничен maxPageSize.
func ParsePageRequest(pageRaw, pageSizeRaw string, defaultPageSize, maxPageSize int) PageRequest {
	page, err := strconv.Atoi(pageRaw)
	switch {
	case err == nil:
	case errors.Is(err, strconv.ErrRange) && strings.HasPrefix(pageRaw, "-"):
		page = 1
	case errors.Is(err, strconv.ErrRange):
		page = math.MaxInt
	default:
		page = 1
	}

	pageSize, err := strconv.Atoi(pageSizeRaw)
	if err != nil || pageSize < 1 {
		pageSize = defaultPageSize
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return PageRequest{Page: page, PageSize: pageSize}
}

// Paginate рассчитывает окно для count записей.
// page < 1 прижимается к 1, page > NumPages — к последней странице.
func Paginate(count, page, pageSize int) Window {
	if pageSize < 1 {
		pageSize = 1
	}
	if count < 0 {
		count = 0
	}

	numPages := (count + pageSize - 1) / pageSize
	if numPages < 1 {
		numPages = 1
	}

	page = min(max(page, 1), numPages)

	return Window{
		Count:     count,
		NumPages:  numPages,
		Page:      page,
		PageRange: lo.RangeFrom(1, numPages),
		Offset:    (page - 1) * pageSize,
		Limit:     pageSize,
	}
}
