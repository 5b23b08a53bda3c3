package transfer

import "fmt"

// Chunk 文件中一段连续的字节区间, End 为闭区间
type Chunk struct {
	Index int
	Start int64
	End   int64
	Size  int64
}

// Plan 把 [0, fileSize) 切分为按序号递增, 互不重叠的分块
// 最后一块截断为余数; fileSize 为 0 时返回空列表, 零字节文件需要调用方单独处理
func Plan(fileSize, chunkSize int64) []Chunk {
	if fileSize <= 0 || chunkSize <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (fileSize+chunkSize-1)/chunkSize)
	for i, start := 0, int64(0); start < fileSize; i, start = i+1, start+chunkSize {
		size := min(chunkSize, fileSize-start)
		chunks = append(chunks, Chunk{
			Index: i,
			Start: start,
			End:   start + size - 1,
			Size:  size,
		})
	}
	return chunks
}

// ShouldUseParallelTransfer 文件大小达到阈值 (含边界) 时走分块传输
func ShouldUseParallelTransfer(fileSize, threshold int64) bool {
	return fileSize >= threshold
}

// partName 分块文件名 <name>.part<index>
func partName(name string, index int) string {
	return fmt.Sprintf("%s.part%d", name, index)
}
